package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/memoranda/internal/checksum"
)

const maxBody = 2 << 20

// Handler holds API route handlers.
type Handler struct {
	svc Service
}

// NewHandler creates a new Handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// ListMemos handles GET /memos.
//
//	@Summary		List memos in directory-then-creation order
//	@Tags			memos
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	MemoListResponse
//	@Security		BearerAuth
//	@Router			/memos [get]
func (h *Handler) ListMemos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, err := h.svc.ListMemos(r.Context())
	if err != nil {
		writeError(w, "list memos", err)
		return
	}
	writeJSON(w, http.StatusOK, MemoListResponse{
		Memos: page(items, limit, offset),
		Total: len(items),
	})
}

// GetMemo handles GET /memos/{id}.
//
//	@Summary		Get a single memo by id
//	@Tags			memos
//	@Produce		json
//	@Param			id	path		string	true	"Memo id"
//	@Success		200	{object}	Memo
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/memos/{id} [get]
func (h *Handler) GetMemo(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetMemo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get memo", err)
		return
	}
	w.Header().Set("ETag", `"`+checksum.Memo(m)+`"`)
	writeJSON(w, http.StatusOK, m)
}

// CreateMemo handles POST /memos.
//
//	@Summary		Create a new memo
//	@Tags			memos
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateMemoRequest	true	"Memo to create"
//	@Success		201		{object}	Memo
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/memos [post]
func (h *Handler) CreateMemo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	var req CreateMemoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	m, err := h.svc.CreateMemo(r.Context(), req.Title, req.Content)
	if err != nil {
		writeError(w, "create memo", err)
		return
	}
	w.Header().Set("ETag", `"`+checksum.Memo(m)+`"`)
	writeJSON(w, http.StatusCreated, m)
}

// UpdateMemo handles PUT /memos/{id}.
//
//	@Summary		Replace the content of a memo with optimistic concurrency
//	@Tags			memos
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Memo id"
//	@Param			If-Match	header		string				false	"Checksum from the ETag of the memo"
//	@Param			body		body		UpdateMemoRequest	true	"Updated content"
//	@Success		200			{object}	Memo
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/memos/{id} [put]
func (h *Handler) UpdateMemo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	var req UpdateMemoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	m, err := h.svc.UpdateMemoIfMatch(r.Context(), chi.URLParam(r, "id"), req.Content, ifMatch)
	if err != nil {
		writeError(w, "update memo", err)
		return
	}
	w.Header().Set("ETag", `"`+checksum.Memo(m)+`"`)
	writeJSON(w, http.StatusOK, m)
}

// DeleteMemo handles DELETE /memos/{id}.
//
//	@Summary		Delete a memo
//	@Tags			memos
//	@Param			id	path	string	true	"Memo id"
//	@Success		204	"Memo deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/memos/{id} [delete]
func (h *Handler) DeleteMemo(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteMemo(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete memo", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /search.
//
//	@Summary		Full-text search across memos
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.SearchMemos(r.Context(), q)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: page(results, limit, 0)})
}

// Context handles GET /context.
//
//	@Summary		All memos rendered as one markdown document
//	@Tags			memos
//	@Produce		text/markdown
//	@Success		200	{string}	string
//	@Security		BearerAuth
//	@Router			/context [get]
func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	text, err := h.svc.GetAllContext(r.Context())
	if err != nil {
		writeError(w, "get context", err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

// page returns items[offset:offset+limit]; limit <= 0 means no limit. The
// result is never nil so it encodes as [].
func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]T, 0, end-offset)
	return append(out, items[offset:end]...)
}
