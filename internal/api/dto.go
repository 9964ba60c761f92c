package api

import (
	"github.com/starford/memoranda/internal/models"
	"github.com/starford/memoranda/internal/search"
)

// CreateMemoRequest is the request body for creating a memo.
type CreateMemoRequest struct {
	Title   string `json:"title" example:"API Notes" validate:"required"`
	Content string `json:"content" example:"Use bearer tokens #auth"`
}

// UpdateMemoRequest is the request body for updating a memo.
type UpdateMemoRequest struct {
	Content string `json:"content" example:"Use OAuth2"`
}

// Memo is the full memo response type (aliased from the domain layer).
type Memo = models.Memo

// MemoListItem is a lightweight item in a list response.
type MemoListItem = models.MemoMetadata

// MemoListResponse wraps paginated memo listings.
type MemoListResponse struct {
	Memos []MemoListItem `json:"memos" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single ranked search hit.
type SearchResult = search.Result

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}
