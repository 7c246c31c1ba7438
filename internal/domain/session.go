package domain

import (
	"strings"
	"time"
)

// Session is the identity bound to one live console connection.
// It is built once at connect time and never mutated afterwards.
type Session struct {
	ID          string
	Identity    Identity
	User        *User
	ConnectedAt time.Time
}

// Authenticated reports whether the session resolved to a stored user.
func (s *Session) Authenticated() bool {
	return s != nil && s.User != nil && s.User.ID != ""
}

// UserID returns the stored user id, or "" when unresolved.
func (s *Session) UserID() string {
	if !s.Authenticated() {
		return ""
	}
	return s.User.ID
}

// Subject returns the verified subject, or "unknown" for anonymous sessions.
func (s *Session) Subject() string {
	if s == nil || s.Identity.Subject == "" {
		return "unknown"
	}
	return s.Identity.Subject
}

// Command is one inbound command as received on a session.
type Command struct {
	Raw        string
	Normalized string
	SessionID  string
	ReceivedAt time.Time
}

// NewCommand builds a Command with its comparison form precomputed.
func NewCommand(raw, sessionID string) Command {
	return Command{
		Raw:        raw,
		Normalized: strings.ToLower(strings.TrimSpace(raw)),
		SessionID:  sessionID,
		ReceivedAt: time.Now(),
	}
}
