// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/commanddeck/internal/domain"
)

// ErrNotFound is returned when a record does not exist or is not owned by the caller.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting console users and their data.
type Repository interface {
	// GetOrCreateUser resolves a verified identity to a stored user, creating it on
	// first sight. Every call refreshes the profile claims and counts a login.
	GetOrCreateUser(ctx context.Context, identity *domain.Identity) (*domain.User, error)

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpdateProfile applies application-owned profile fields.
	UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.User, error)

	// GetPreferences returns the user's preferences, creating defaults on first access.
	GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error)

	// SavePreferences merges a partial update into the user's preferences.
	SavePreferences(ctx context.Context, userID string, update domain.PreferencesUpdate) (*domain.Preferences, error)

	// SaveSearch records a search and trims history to the user's limit.
	SaveSearch(ctx context.Context, userID string, search domain.NewSearch) (*domain.SearchRecord, error)

	// GetSearchHistory returns up to limit searches, newest first.
	GetSearchHistory(ctx context.Context, userID string, limit int) ([]*domain.SearchRecord, error)

	// DeleteSearch removes one search owned by the user.
	DeleteSearch(ctx context.Context, userID, searchID string) error

	// ClearSearchHistory removes every search owned by the user.
	ClearSearchHistory(ctx context.Context, userID string) error

	// SaveChatMessage persists a chat message. A preassigned ID is kept.
	SaveChatMessage(ctx context.Context, userID string, msg domain.NewChatMessage) (*domain.ChatMessage, error)

	// GetChatMessages returns the latest limit messages in chronological order.
	// An empty kind matches every kind.
	GetChatMessages(ctx context.Context, userID string, limit int, kind domain.MessageKind) ([]*domain.ChatMessage, error)

	// GetPinnedMessages returns the user's pinned messages, newest first.
	GetPinnedMessages(ctx context.Context, userID string) ([]*domain.ChatMessage, error)

	// TogglePin flips the pin flag and returns the new value.
	TogglePin(ctx context.Context, userID, messageID string) (bool, error)

	// ClearChatMessages removes every chat message owned by the user.
	ClearChatMessages(ctx context.Context, userID string) (int64, error)

	// DeleteExpiredChatMessages removes unpinned messages older than maxAge.
	DeleteExpiredChatMessages(ctx context.Context, maxAge time.Duration) (int64, error)

	// RecordUsage appends an API usage record.
	RecordUsage(ctx context.Context, usage domain.UsageRecord) error

	// GetStats summarizes the user's activity.
	GetStats(ctx context.Context, userID string) (*domain.Stats, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
