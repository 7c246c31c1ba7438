package domain

import (
	"fmt"
	"strings"
	"time"
)

// MessageKind classifies a stored chat message.
type MessageKind string

const (
	MessageUser        MessageKind = "user"
	MessageSystem      MessageKind = "system"
	MessageAPIResponse MessageKind = "api_response"
	MessageError       MessageKind = "error"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageUser, MessageSystem, MessageAPIResponse, MessageError:
		return true
	}
	return false
}

// ChatMessage is one persisted console message.
type ChatMessage struct {
	ID             string         `json:"id"`
	UserID         string         `json:"-"`
	Kind           MessageKind    `json:"messageType"`
	Content        string         `json:"result"`
	Command        string         `json:"command"`
	Provider       Provider       `json:"api"`
	ResponseStatus int            `json:"responseStatus,omitempty"`
	ResponseTimeMs int64          `json:"responseTime,omitempty"`
	Success        bool           `json:"success"`
	ErrorText      string         `json:"errorMessage,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Pinned         bool           `json:"pinned"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// NewChatMessage describes a message to persist. ID may be preassigned by the caller.
type NewChatMessage struct {
	ID             string
	Kind           MessageKind
	Content        string
	Command        string
	Provider       Provider
	ResponseStatus int
	ResponseTimeMs int64
	Success        bool
	ErrorText      string
	Metadata       map[string]any
}

// SearchRecord is a saved search query.
type SearchRecord struct {
	ID        string         `json:"id"`
	UserID    string         `json:"-"`
	Query     string         `json:"query"`
	Provider  Provider       `json:"api,omitempty"`
	Success   bool           `json:"success"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NewSearch describes a search to record.
type NewSearch struct {
	Query    string         `json:"query"`
	Provider Provider       `json:"api,omitempty"`
	Success  bool           `json:"success"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Preferences holds per-user console settings.
type Preferences struct {
	UserID            string    `json:"userId"`
	Theme             string    `json:"theme"`
	DefaultAPIs       []string  `json:"defaultApis"`
	Notifications     bool      `json:"notifications"`
	AutoSaveSearch    bool      `json:"autoSaveSearch"`
	MaxSearchHistory  int       `json:"maxSearchHistory"`
	PreferredLanguage string    `json:"preferredLanguage"`
	Timezone          string    `json:"timezone"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// DefaultPreferences returns the settings given to a user on first access.
func DefaultPreferences(userID string) *Preferences {
	now := time.Now()
	return &Preferences{
		UserID:            userID,
		Theme:             "light",
		DefaultAPIs:       []string{string(ProviderCatFacts), string(ProviderWeather)},
		Notifications:     true,
		AutoSaveSearch:    true,
		MaxSearchHistory:  100,
		PreferredLanguage: "en",
		Timezone:          "UTC",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Summary renders the preferences as a single console line.
func (p *Preferences) Summary() string {
	return fmt.Sprintf("Your preferences: Theme: %s, Default APIs: %s, Notifications: %t",
		p.Theme, strings.Join(p.DefaultAPIs, ", "), p.Notifications)
}

// PreferencesUpdate is a partial preferences change. Nil fields are kept.
type PreferencesUpdate struct {
	Theme             *string   `json:"theme,omitempty"`
	DefaultAPIs       *[]string `json:"defaultApis,omitempty"`
	Notifications     *bool     `json:"notifications,omitempty"`
	AutoSaveSearch    *bool     `json:"autoSaveSearch,omitempty"`
	MaxSearchHistory  *int      `json:"maxSearchHistory,omitempty"`
	PreferredLanguage *string   `json:"preferredLanguage,omitempty"`
	Timezone          *string   `json:"timezone,omitempty"`
}

// Apply copies the set fields of u onto p.
func (u PreferencesUpdate) Apply(p *Preferences) {
	if u.Theme != nil {
		p.Theme = *u.Theme
	}
	if u.DefaultAPIs != nil {
		p.DefaultAPIs = append([]string(nil), (*u.DefaultAPIs)...)
	}
	if u.Notifications != nil {
		p.Notifications = *u.Notifications
	}
	if u.AutoSaveSearch != nil {
		p.AutoSaveSearch = *u.AutoSaveSearch
	}
	if u.MaxSearchHistory != nil {
		p.MaxSearchHistory = *u.MaxSearchHistory
	}
	if u.PreferredLanguage != nil {
		p.PreferredLanguage = *u.PreferredLanguage
	}
	if u.Timezone != nil {
		p.Timezone = *u.Timezone
	}
}

// UsageRecord logs one dispatched command against a provider.
type UsageRecord struct {
	UserID         string
	Provider       Provider
	Endpoint       string
	ResponseStatus int
	ResponseTimeMs int64
	ErrorText      string
	CreatedAt      time.Time
}

// Stats summarizes a user's activity.
type Stats struct {
	TotalSearches     int              `json:"totalSearches"`
	TotalChatSessions int              `json:"totalChatSessions"`
	TotalMessages     int              `json:"totalMessages"`
	LastActivity      *time.Time       `json:"lastActivity"`
	UsageByProvider   map[Provider]int `json:"usageByProvider"`
}
