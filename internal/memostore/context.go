package memostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/memoranda/internal/apperr"
	"github.com/starford/memoranda/internal/models"
)

// GetAllContext renders every memo, in listing order, as one markdown
// document. It returns "" when there are no memos.
func (s *Store) GetAllContext(ctx context.Context) (string, error) {
	metas, err := s.ListMemos(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, meta := range metas {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		m, err := s.GetMemo(ctx, meta.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		writeContext(&b, m)
	}
	return b.String(), nil
}

func writeContext(b *strings.Builder, m *models.Memo) {
	fmt.Fprintf(b, "# %s\n\n", m.Title)
	fmt.Fprintf(b, "**ID:** %s\n", m.ID)
	fmt.Fprintf(b, "**Created:** %s\n", m.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(b, "**Updated:** %s\n", m.UpdatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(b, "**Tags:** %s\n\n", strings.Join(m.Tags, ", "))
	b.WriteString(m.Content)
	b.WriteString("\n\n---\n\n")
}
