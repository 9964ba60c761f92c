// Package parser reads and writes the YAML frontmatter header of memo files
// and extracts tags from Markdown content.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

const delim = "---"

// Result holds the output of parsing a memo file.
type Result struct {
	Frontmatter map[string]interface{}
	Header      Header
	Body        string
	Tags        []string
}

// Header is the typed view of the fields memoranda keeps in frontmatter.
// Zero values mean the field was absent or unreadable.
type Header struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Tags      []string
}

// Parse extracts frontmatter, body, and tags from raw file bytes.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	h := headerOf(fm)
	return &Result{
		Frontmatter: fm,
		Header:      h,
		Body:        body,
		Tags:        MergeTags(h.Tags, body),
	}, nil
}

// ParseHeader decodes only the header from a prefix of a file. It reports
// false when prefix opens a header that it does not close, in which case the
// caller needs to supply more of the file.
func ParseHeader(prefix []byte) (Header, bool) {
	if hasOpening(prefix) && !bytes.Contains(prefix[len(delim):], []byte("\n"+delim)) {
		return Header{}, false
	}
	fm, _, _ := splitFrontmatter(prefix)
	return headerOf(fm), true
}

func hasOpening(data []byte) bool {
	return bytes.HasPrefix(data, []byte(delim+"\n")) || bytes.HasPrefix(data, []byte(delim+"\r\n"))
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the body. If no frontmatter is found the entire content is body.
// Exactly one line break after the closing delimiter is consumed so bodies
// round-trip verbatim.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	if !hasOpening(data) {
		return nil, string(data), nil
	}

	rest := data[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}
	after := rest[idx+1+len(delim):]
	switch {
	case len(after) == 0:
	case bytes.HasPrefix(after, []byte("\r\n")):
		after = after[2:]
	case after[0] == '\n':
		after = after[1:]
	default:
		// "---" followed by more text on the same line is not a delimiter.
		return nil, string(data), nil
	}

	var fm map[string]interface{}
	if err := yaml.Unmarshal(rest[:idx], &fm); err != nil {
		// Invalid YAML: treat the whole file as body.
		return nil, string(data), nil
	}
	if fm == nil {
		fm = map[string]interface{}{}
	}
	return fm, string(after), nil
}

func headerOf(fm map[string]interface{}) Header {
	var h Header
	if fm == nil {
		return h
	}
	h.ID = strings.TrimSpace(stringField(fm, "id"))
	// Titles are stored verbatim; surrounding whitespace is part of them.
	h.Title = stringField(fm, "title")
	h.CreatedAt = timeField(fm, "created_at")
	h.UpdatedAt = timeField(fm, "updated_at")
	if raw, ok := fm["tags"].([]interface{}); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				h.Tags = append(h.Tags, s)
			}
		}
	}
	return h
}

func stringField(fm map[string]interface{}, key string) string {
	switch v := fm[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// timeField accepts both quoted RFC 3339 strings and YAML timestamps.
func timeField(fm map[string]interface{}, key string) time.Time {
	switch v := fm[key].(type) {
	case time.Time:
		return v.UTC()
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
		if err != nil {
			return time.Time{}
		}
		return t.UTC()
	}
	return time.Time{}
}

// MergeTags unions frontmatter tags with inline #tags from body, deduplicated
// in first-seen order.
func MergeTags(frontmatter []string, body string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range frontmatter {
		add(s)
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

type wireHeader struct {
	ID        string   `yaml:"id"`
	Title     string   `yaml:"title"`
	CreatedAt string   `yaml:"created_at"`
	UpdatedAt string   `yaml:"updated_at"`
	Tags      []string `yaml:"tags"`
}

// Render produces the canonical file bytes for a memo: header then body verbatim.
func Render(h Header, body string) ([]byte, error) {
	tags := h.Tags
	if tags == nil {
		tags = []string{}
	}
	out, err := yaml.Marshal(wireHeader{
		ID:        h.ID,
		Title:     h.Title,
		CreatedAt: h.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: h.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Tags:      tags,
	})
	if err != nil {
		return nil, fmt.Errorf("parser: marshal header: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(out) + len(body) + 8)
	buf.WriteString(delim + "\n")
	buf.Write(out)
	buf.WriteString(delim + "\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}
