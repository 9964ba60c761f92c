package memostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/memoranda/internal/apperr"
	"github.com/starford/memoranda/internal/checksum"
	"github.com/starford/memoranda/internal/idgen"
	"github.com/starford/memoranda/internal/models"
	"github.com/starford/memoranda/internal/storage"
	"github.com/starford/memoranda/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) hook(kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+id)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	root, fs := testutil.TestStore(t)
	s, err := New(context.Background(), fs, opts...)
	require.NoError(t, err)
	return s, root
}

func listIDs(t *testing.T, s *Store) []string {
	t.Helper()
	metas, err := s.ListMemos(context.Background())
	require.NoError(t, err)
	out := make([]string, len(metas))
	for i, m := range metas {
		out[i] = m.ID
	}
	return out
}

func searchIDs(t *testing.T, s *Store, q string) []string {
	t.Helper()
	rs, err := s.SearchMemos(context.Background(), q)
	require.NoError(t, err)
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

// rewrite replaces the content of a memo file behind the store's back and
// moves its mtime forward.
func rewrite(t *testing.T, m *models.Memo, content string) {
	t.Helper()
	data, err := os.ReadFile(m.Location)
	require.NoError(t, err)
	updated := strings.Replace(string(data), m.Content, content, 1)
	require.NoError(t, os.WriteFile(m.Location, []byte(updated), 0o644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(m.Location, later, later))
}

func TestCreateThenGet(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	m, err := s.CreateMemo(ctx, "API Notes", "Use bearer tokens")
	require.NoError(t, err)
	assert.True(t, idgen.Valid(m.ID))
	assert.Len(t, m.ID, 26)

	got, err := s.GetMemo(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "API Notes", got.Title)
	assert.Equal(t, "Use bearer tokens", got.Content)
	assert.True(t, got.CreatedAt.Equal(got.UpdatedAt))
}

func TestUpdatePreservesIdentity(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	m, err := s.CreateMemo(ctx, "Plan", "v1")
	require.NoError(t, err)
	u, err := s.UpdateMemo(ctx, m.ID, "v2")
	require.NoError(t, err)

	assert.Equal(t, m.ID, u.ID)
	assert.Equal(t, m.Title, u.Title)
	assert.True(t, m.CreatedAt.Equal(u.CreatedAt))
	assert.True(t, u.UpdatedAt.After(u.CreatedAt))

	got, err := s.GetMemo(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
}

func TestDeleteIsTerminal(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	m, err := s.CreateMemo(ctx, "Gone", "soon")
	require.NoError(t, err)
	require.NoError(t, s.DeleteMemo(ctx, m.ID))

	_, err = s.GetMemo(ctx, m.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.NotContains(t, listIDs(t, s), m.ID)
	assert.Empty(t, searchIDs(t, s, "soon"))

	err = s.DeleteMemo(ctx, m.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = s.UpdateMemo(ctx, m.ID, "back")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDeleteUnknownHasNoSideEffects(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	_, err := s.CreateMemo(ctx, "Keep", "me")
	require.NoError(t, err)
	before := s.Stats()

	id, err := idgen.New().New()
	require.NoError(t, err)
	err = s.DeleteMemo(ctx, id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Contains(t, err.Error(), id)

	after := s.Stats()
	assert.Equal(t, before.Memos, after.Memos)
	assert.Equal(t, before.Vocabulary, after.Vocabulary)
	assert.Equal(t, before.Cache.Size, after.Cache.Size)
	assert.Zero(t, after.Retired)
}

func TestValidation(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	for name, err := range map[string]error{
		"empty title":  second(s.CreateMemo(ctx, "", "x")),
		"blank title":  second(s.CreateMemo(ctx, "   ", "x")),
		"long title":   second(s.CreateMemo(ctx, strings.Repeat("a", 256), "x")),
		"big content":  second(s.CreateMemo(ctx, "t", strings.Repeat("a", models.MaxContentBytes+1))),
		"bad id":       second(s.GetMemo(ctx, "not-an-id")),
		"bad update":   second(s.UpdateMemo(ctx, "short", "x")),
		"empty query":  second(s.SearchMemos(ctx, "")),
		"long query":   second(s.SearchMemos(ctx, strings.Repeat("q", 1001))),
		"delete bad":   s.DeleteMemo(ctx, "nope"),
		"refresh bad":  s.Refresh(ctx, "nope"),
		"unbalanced":   second(s.SearchMemos(ctx, "(a")),
		"no terms":     second(s.SearchMemos(ctx, "!!!")),
		"wildcard mid": second(s.SearchMemos(ctx, "a*b")),
	} {
		assert.True(t, errors.Is(err, apperr.ErrValidation), "%s: %v", name, err)
	}
	assert.Empty(t, listIDs(t, s))
}

func second[T any](_ T, err error) error { return err }

func TestSearchRanksTitleAboveContent(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	body, err := s.CreateMemo(ctx, "Misc", "the kubernetes cluster")
	require.NoError(t, err)
	title, err := s.CreateMemo(ctx, "Kubernetes", "the misc cluster")
	require.NoError(t, err)
	_, err = s.CreateMemo(ctx, "Other", "nothing relevant")
	require.NoError(t, err)

	assert.Equal(t, []string{title.ID, body.ID}, searchIDs(t, s, "KUBERNETES"))
}

func TestListStableAndOrdered(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	var want []string
	for i := range 5 {
		m, err := s.CreateMemo(ctx, fmt.Sprintf("memo %d", i), "body")
		require.NoError(t, err)
		want = append(want, m.ID)
	}
	first := listIDs(t, s)
	assert.Equal(t, want, first)
	assert.Equal(t, first, listIDs(t, s))
}

func TestExternalEditVisibleOnGet(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	m, err := s.CreateMemo(ctx, "Notes", "original text")
	require.NoError(t, err)
	_, err = s.GetMemo(ctx, m.ID) // cached
	require.NoError(t, err)

	rewrite(t, m, "edited elsewhere")

	got, err := s.GetMemo(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited elsewhere", got.Content)
	// The reload also refreshed the index.
	assert.Equal(t, []string{m.ID}, searchIDs(t, s, "elsewhere"))
	assert.Empty(t, searchIDs(t, s, "original"))
}

func TestExternalRemovalPurgesIndexOnGet(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	m, err := s.CreateMemo(ctx, "Temp", "ephemeral")
	require.NoError(t, err)
	require.NoError(t, os.Remove(m.Location))

	_, err = s.GetMemo(ctx, m.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Empty(t, listIDs(t, s))
	assert.Empty(t, searchIDs(t, s, "ephemeral"))
}

func TestConcurrentCreates(t *testing.T) {
	s, root := newStore(t)
	ctx := context.Background()

	const n = 40
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := s.CreateMemo(ctx, fmt.Sprintf("title %d", i), fmt.Sprintf("content %d", i))
			if err == nil {
				ids[i] = m.ID
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	entries, err := os.ReadDir(filepath.Join(root, storage.DefaultDirName))
	require.NoError(t, err)
	assert.Len(t, entries, n)
	assert.Len(t, listIDs(t, s), n)
}

func TestConcurrentUpdatesSameID(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	m, err := s.CreateMemo(ctx, "Counter", "0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateMemo(ctx, m.ID, fmt.Sprintf("value %d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetMemo(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.Content, "value "))
	// The index holds exactly the content on disk.
	assert.Equal(t, []string{m.ID}, searchIDs(t, s, fmt.Sprintf("%q", got.Content)))
}

func TestScenarioBearerToOAuth(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	x, err := s.CreateMemo(ctx, "API Notes", "Use bearer tokens")
	require.NoError(t, err)
	assert.Equal(t, []string{x.ID}, searchIDs(t, s, "bearer"))

	_, err = s.UpdateMemo(ctx, x.ID, "Use OAuth2")
	require.NoError(t, err)
	assert.Empty(t, searchIDs(t, s, "bearer"))
	assert.Equal(t, []string{x.ID}, searchIDs(t, s, "oauth2"))
}

func TestGetAllContext(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	out, err := s.GetAllContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", out)

	a, err := s.CreateMemo(ctx, "First Memo", "First content #go")
	require.NoError(t, err)
	b, err := s.CreateMemo(ctx, "Second Memo", "Second content")
	require.NoError(t, err)

	out, err = s.GetAllContext(ctx)
	require.NoError(t, err)
	want := fmt.Sprintf("# First Memo\n\n**ID:** %s\n**Created:** %s\n**Updated:** %s\n**Tags:** go\n\nFirst content #go\n\n---\n\n",
		a.ID, a.CreatedAt.UTC().Format(time.RFC3339), a.UpdatedAt.UTC().Format(time.RFC3339))
	assert.True(t, strings.HasPrefix(out, want), out)
	assert.Less(t, strings.Index(out, "# First Memo"), strings.Index(out, "# Second Memo"))
	assert.Contains(t, out, "**ID:** "+b.ID)
	assert.True(t, strings.HasSuffix(out, "Second content\n\n---\n\n"))
}

func TestReopenLoadsExistingMemos(t *testing.T) {
	root, fs := testutil.TestStore(t)
	ctx := context.Background()
	s, err := New(ctx, fs)
	require.NoError(t, err)
	m, err := s.CreateMemo(ctx, "Persistent", "survives restarts")
	require.NoError(t, err)

	fs2, err := storage.Open(root, storage.ScopeOptions{})
	require.NoError(t, err)
	s2, err := New(ctx, fs2)
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, listIDs(t, s2))
	assert.Equal(t, []string{m.ID}, searchIDs(t, s2, "restarts"))
}

func TestTombstoneSurvivesRestart(t *testing.T) {
	root, fs := testutil.TestStore(t)
	db := testutil.TestDB(t)
	ctx := context.Background()

	s, err := New(ctx, fs, WithLedger(db))
	require.NoError(t, err)
	m, err := s.CreateMemo(ctx, "Secret", "burn after reading")
	require.NoError(t, err)
	data, err := os.ReadFile(m.Location)
	require.NoError(t, err)
	require.NoError(t, s.DeleteMemo(ctx, m.ID))

	// Someone restores the file by hand.
	require.NoError(t, os.WriteFile(m.Location, data, 0o644))

	fs2, err := storage.Open(root, storage.ScopeOptions{})
	require.NoError(t, err)
	s2, err := New(ctx, fs2, WithLedger(db))
	require.NoError(t, err)
	assert.Empty(t, listIDs(t, s2))
	_, err = s2.GetMemo(ctx, m.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Equal(t, 1, s2.Stats().Retired)
}

func TestCatalogReportsOfflineEdits(t *testing.T) {
	root, fs := testutil.TestStore(t)
	db := testutil.TestDB(t)
	ctx := context.Background()

	s, err := New(ctx, fs, WithLedger(db))
	require.NoError(t, err)
	m, err := s.CreateMemo(ctx, "Draft", "first draft")
	require.NoError(t, err)
	row, err := db.Get(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, checksum.Memo(m), row.Checksum)

	rewrite(t, m, "second draft")

	fs2, err := storage.Open(root, storage.ScopeOptions{})
	require.NoError(t, err)
	s2, err := New(ctx, fs2, WithLedger(db))
	require.NoError(t, err)
	report, err := s2.Sync(ctx)
	require.NoError(t, err)
	// New already synced, so a second pass finds nothing.
	assert.True(t, report.Empty())
	row, err = db.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.NotEqual(t, checksum.Memo(m), row.Checksum)
}

func TestRefreshAndForget(t *testing.T) {
	rec := &recorder{}
	s, root := newStore(t, WithEventHook(rec.hook))
	ctx := context.Background()

	id, err := idgen.New().New()
	require.NoError(t, err)
	dir := filepath.Join(root, storage.DefaultDirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "Dropped in-"+id+".md")
	require.NoError(t, os.WriteFile(path, []byte("written by hand"), 0o644))

	require.NoError(t, s.Refresh(ctx, id))
	assert.Equal(t, []string{id}, listIDs(t, s))
	assert.Equal(t, []string{id}, searchIDs(t, s, "hand"))
	// Refreshing an unchanged file is silent.
	require.NoError(t, s.Refresh(ctx, id))

	require.NoError(t, os.Remove(path))
	s.Forget(ctx, id)
	assert.Empty(t, listIDs(t, s))

	assert.Equal(t, []string{EventCreated + ":" + id, EventDeleted + ":" + id}, rec.all())
}

func TestEventsForMutations(t *testing.T) {
	rec := &recorder{}
	s, _ := newStore(t, WithEventHook(rec.hook))
	ctx := context.Background()

	m, err := s.CreateMemo(ctx, "E", "v1")
	require.NoError(t, err)
	_, err = s.UpdateMemo(ctx, m.ID, "v2")
	require.NoError(t, err)
	require.NoError(t, s.DeleteMemo(ctx, m.ID))
	require.NoError(t, s.Rebuild(ctx))

	assert.Equal(t, []string{
		EventCreated + ":" + m.ID,
		EventUpdated + ":" + m.ID,
		EventDeleted + ":" + m.ID,
		EventRebuilt + ":",
	}, rec.all())
}

func TestNestedDirectoriesListedAfterPrimary(t *testing.T) {
	root, _ := testutil.TestStore(t)
	ctx := context.Background()

	nested := filepath.Join(root, "pkg", storage.DefaultDirName)
	require.NoError(t, os.MkdirAll(nested, 0o755))
	nestedID, err := idgen.New().New()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(nested, "Nested-"+nestedID+".md"), []byte("deep"), 0o644))

	fs, err := storage.Open(root, storage.ScopeOptions{})
	require.NoError(t, err)
	s, err := New(ctx, fs)
	require.NoError(t, err)
	primary, err := s.CreateMemo(ctx, "Top", "shallow")
	require.NoError(t, err)

	// The nested memo is older, but the primary directory comes first.
	assert.Equal(t, []string{primary.ID, nestedID}, listIDs(t, s))
	got, err := s.GetMemo(ctx, nestedID)
	require.NoError(t, err)
	assert.Equal(t, "Nested", got.Title)
	assert.Equal(t, "deep", got.Content)
}

func TestUpdateIfMatch(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	m, err := s.CreateMemo(ctx, "Guarded", "v1")
	require.NoError(t, err)

	_, err = s.UpdateMemoIfMatch(ctx, m.ID, "v2", "stale")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	u, err := s.UpdateMemoIfMatch(ctx, m.ID, "v2", checksum.Memo(m))
	require.NoError(t, err)
	assert.Equal(t, "v2", u.Content)
}

func TestTitleSurvivesUpdateAndReopen(t *testing.T) {
	titles := map[string]string{
		"padded":    " API Notes ",
		"wide pad":  "  API Notes  ",
		"tabs":      "tab\tend\t",
		"multiline": "line one\nline two",
		"non-ascii": "Café ☕ 日本語",
		"yaml-ish":  "key: value #not-a-tag",
	}
	for name, title := range titles {
		t.Run(name, func(t *testing.T) {
			root, fs := testutil.TestStore(t)
			ctx := context.Background()
			s, err := New(ctx, fs)
			require.NoError(t, err)

			m, err := s.CreateMemo(ctx, title, "first")
			require.NoError(t, err)
			assert.Equal(t, title, m.Title)

			u, err := s.UpdateMemo(ctx, m.ID, "second")
			require.NoError(t, err)
			assert.Equal(t, title, u.Title, "update must keep the title")

			got, err := s.GetMemo(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, title, got.Title)

			fs2, err := storage.Open(root, storage.ScopeOptions{})
			require.NoError(t, err)
			s2, err := New(ctx, fs2)
			require.NoError(t, err)

			reopened, err := s2.GetMemo(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, title, reopened.Title)
			assert.Equal(t, "second", reopened.Content)

			metas, err := s2.ListMemos(ctx)
			require.NoError(t, err)
			require.Len(t, metas, 1)
			assert.Equal(t, title, metas[0].Title)

			text, err := s2.GetAllContext(ctx)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(text, "# "+title+"\n\n"), "context starts with %q", text)
		})
	}
}

func TestConcurrentReadersIndexLatestVersion(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	m, err := s.CreateMemo(ctx, "Racy", "version 0")
	require.NoError(t, err)

	const versions = 20
	base := time.Now().Add(time.Hour)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for v := 1; v <= versions; v++ {
			data, err := os.ReadFile(m.Location)
			if err != nil {
				return
			}
			next := strings.Replace(string(data), fmt.Sprintf("version %d", v-1), fmt.Sprintf("version %d", v), 1)
			// Replace the file whole so readers never see a partial write.
			tmp := m.Location + ".tmp"
			if os.WriteFile(tmp, []byte(next), 0o644) != nil {
				return
			}
			mt := base.Add(time.Duration(v) * time.Second)
			_ = os.Chtimes(tmp, mt, mt)
			if os.Rename(tmp, m.Location) != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-writerDone:
					_, _ = s.GetMemo(ctx, m.ID)
					return
				default:
					_, _ = s.GetMemo(ctx, m.ID)
				}
			}
		}()
	}
	wg.Wait()

	info, err := os.Stat(m.Location)
	require.NoError(t, err)
	doc, ok := s.index.Document(m.ID)
	require.True(t, ok)
	assert.True(t, doc.ModTime.Equal(info.ModTime()), "index holds %v, file is %v", doc.ModTime, info.ModTime())
	assert.Equal(t, []string{m.ID}, searchIDs(t, s, fmt.Sprintf(`"version %d"`, versions)))
}

func TestRebuildFindsDirectoryCreatedLater(t *testing.T) {
	s, root := newStore(t)
	ctx := context.Background()

	nested := filepath.Join(root, "svc", storage.DefaultDirName)
	require.NoError(t, os.MkdirAll(nested, 0o755))
	const id = "01BX5ZZKBKACTAV9WEVGEMMVRZ"
	require.NoError(t, os.WriteFile(filepath.Join(nested, "Later-"+id+".md"), []byte("nested memo"), 0o644))

	require.NoError(t, s.Rebuild(ctx))
	assert.Contains(t, listIDs(t, s), id)
	assert.Equal(t, []string{id}, searchIDs(t, s, "nested"))
	assert.Len(t, s.Scope().Dirs, 2)
}

func TestRescanReportsDirectoryChanges(t *testing.T) {
	s, root := newStore(t)
	ctx := context.Background()

	changed, err := s.Rescan(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib", storage.DefaultDirName), 0o755))
	changed, err = s.Rescan(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Rescan(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}
