package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/memoranda/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.App.Transport != TransportStdio {
		t.Errorf("transport = %q, want %q", cfg.App.Transport, TransportStdio)
	}
	if !cfg.Catalog.Enabled {
		t.Error("catalog should be enabled by default")
	}
}

func TestAppConfig_Transport(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.App.Transport = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty transport should default to stdio: %v", err)
	}
	if cfg.App.Transport != TransportStdio {
		t.Errorf("transport = %q", cfg.App.Transport)
	}

	cfg.App.Transport = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown transport should fail validation")
	}
}

func TestStoreConfig_DirName(t *testing.T) {
	for _, name := range []string{"", "a/b", "..", "."} {
		cfg := NewDefaultConfig()
		cfg.Store.DirName = name
		if err := cfg.Validate(); err == nil {
			t.Errorf("dir name %q should fail validation", name)
		}
	}
	cfg := NewDefaultConfig()
	cfg.Store.DirName = ".notes"
	if err := cfg.Validate(); err != nil {
		t.Errorf("plain dir name rejected: %v", err)
	}
}

func TestRetryConfig_Bounds(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Retry.MaxInterval = cfg.Retry.InitialInterval / 2
	if err := cfg.Validate(); err == nil {
		t.Fatal("max interval below initial interval should fail")
	}

	cfg = NewDefaultConfig()
	cfg.Retry.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero attempts should fail")
	}
}

func TestCatalogConfig_DatabasePath(t *testing.T) {
	cfg := CatalogConfig{Enabled: true}
	if got := cfg.DatabasePath(filepath.Join("repo", ".memoranda")); got != filepath.Join("repo", ".memoranda", ".catalog.db") {
		t.Errorf("default path = %q", got)
	}
	cfg.Path = "/tmp/elsewhere.db"
	if got := cfg.DatabasePath("ignored"); got != "/tmp/elsewhere.db" {
		t.Errorf("explicit path = %q", got)
	}
}

func TestConfig_LoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
app:
  log_level: debug
  transport: http
  http:
    port: 9090
store:
  watch: true
search:
  recency_half_life: 48h
retry:
  initial_interval: 10ms
  max_interval: 100ms
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9090 || cfg.App.Transport != TransportHTTP {
		t.Errorf("app = %+v", cfg.App)
	}
	if !cfg.Store.Watch || cfg.Store.DirName != ".memoranda" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Search.RecencyHalfLife != 48*time.Hour || cfg.Search.TitleBoost != 3.0 {
		t.Errorf("search = %+v", cfg.Search)
	}
	if cfg.Retry.InitialInterval != 10*time.Millisecond || cfg.Retry.MaxAttempts != 3 {
		t.Errorf("retry = %+v", cfg.Retry)
	}
}
