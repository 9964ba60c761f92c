package api

import (
	"context"

	"github.com/starford/memoranda/internal/memostore"
	"github.com/starford/memoranda/internal/models"
	"github.com/starford/memoranda/internal/search"
)

// Service is the memo store as seen by the HTTP handlers.
type Service interface {
	CreateMemo(ctx context.Context, title, content string) (*models.Memo, error)
	UpdateMemoIfMatch(ctx context.Context, id, content, ifMatch string) (*models.Memo, error)
	DeleteMemo(ctx context.Context, id string) error
	GetMemo(ctx context.Context, id string) (*models.Memo, error)
	ListMemos(ctx context.Context) ([]models.MemoMetadata, error)
	SearchMemos(ctx context.Context, query string) ([]search.Result, error)
	GetAllContext(ctx context.Context) (string, error)
}

var _ Service = (*memostore.Store)(nil)
