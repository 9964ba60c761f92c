// Package models defines the domain types for memoranda.
package models

import (
	"time"
)

// Memo is a persisted note backed by one markdown file.
type Memo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Tags      []string  `json:"tags"`
	Location  string    `json:"location"`
	// ModTime is the file modification time observed when the memo was read.
	ModTime time.Time `json:"-"`
}

// Clone returns a deep copy so cached snapshots are never shared mutably.
func (m *Memo) Clone() *Memo {
	if m == nil {
		return nil
	}
	c := *m
	c.Tags = append([]string(nil), m.Tags...)
	return &c
}

// Metadata returns the listing view of the memo.
func (m *Memo) Metadata() MemoMetadata {
	return MemoMetadata{
		ID:        m.ID,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Location:  m.Location,
		ModTime:   m.ModTime,
	}
}

// MemoMetadata is the lightweight representation returned by list operations.
type MemoMetadata struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Location  string    `json:"location"`
	ModTime   time.Time `json:"-"`
}
