package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message roles.
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
)

// ChatSession is one conversation thread of a user with one agent.
type ChatSession struct {
	ID        int64
	UserID    int64
	Agent     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatMessage is an immutable entry of a session. ProductID records the
// product the customer was viewing when the turn happened.
type ChatMessage struct {
	ID        int64
	SessionID int64
	Role      string
	Content   string
	ProductID *int64
	CreatedAt time.Time
}

// ImportStats reports what a catalog import wrote.
type ImportStats struct {
	Categories int `json:"categories"`
	Colors     int `json:"colors"`
	Products   int `json:"products"`
	Sizes      int `json:"sizes"`
	Variants   int `json:"variants"`
}
