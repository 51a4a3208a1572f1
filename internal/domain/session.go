package domain

import (
	"strings"
	"time"
)

// Session defaults applied when a caller omits them.
const (
	DefaultSessionTitle = "New Chat"
	DefaultSessionModel = "Llama-3-8B-Instruct"
	DefaultSessionOwner = "local"
)

// Session is a conversation owned by a single principal.
// ID, OwnerID and CreatedAt never change after creation; Title may be renamed.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	ModelID   string    `json:"modelId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// ApplyDefaults trims the title and fills empty fields with the given defaults.
func (s *Session) ApplyDefaults(title, model, owner string) {
	s.Title = strings.TrimSpace(s.Title)
	if s.Title == "" {
		s.Title = title
	}
	if s.ModelID == "" {
		s.ModelID = model
	}
	if s.OwnerID == "" {
		s.OwnerID = owner
	}
}
