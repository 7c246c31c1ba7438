package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/commanddeck/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestUser(t *testing.T, s *SQLiteStore, subject string) *domain.User {
	t.Helper()
	u, err := s.GetOrCreateUser(context.Background(), &domain.Identity{
		Subject: subject,
		Email:   subject + "@example.com",
	})
	require.NoError(t, err)
	return u
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	identity := &domain.Identity{
		Subject:   "sub-1",
		Email:     "ada@example.com",
		GivenName: "Ada",
		Claims:    map[string]any{"cognito:groups": []any{"beta"}},
	}

	first, err := s.GetOrCreateUser(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, "ada", first.Username)
	assert.Equal(t, 1, first.LoginCount)
	assert.True(t, first.Active)
	assert.Equal(t, domain.AccountActive, first.AccountStatus)
	assert.Equal(t, domain.UserTypeStandard, first.UserType)
	assert.Equal(t, "Ada", first.FirstName)
	assert.Contains(t, first.Attributes, "cognito:groups")

	identity.GivenName = "Augusta"
	second, err := s.GetOrCreateUser(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.LoginCount)
	assert.Equal(t, "Augusta", second.FirstName)
}

func TestGetOrCreateUserRequiresSubject(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetOrCreateUser(context.Background(), &domain.Identity{})
	assert.Error(t, err)
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "sub-1")

	bio := "writes programs"
	name := "countess"
	updated, err := s.UpdateProfile(ctx, u.ID, domain.ProfileUpdate{Bio: &bio, Username: &name})
	require.NoError(t, err)
	assert.Equal(t, "writes programs", updated.Bio)
	assert.Equal(t, "countess", updated.Username)

	// A later login must not clobber the chosen username.
	again := newTestUser(t, s, "sub-1")
	assert.Equal(t, "countess", again.Username)

	_, err = s.UpdateProfile(ctx, "missing", domain.ProfileUpdate{Bio: &bio})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPreferencesDefaultsAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prefs, err := s.GetPreferences(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "light", prefs.Theme)
	assert.Equal(t, []string{"Cat Facts", "Weather"}, prefs.DefaultAPIs)
	assert.True(t, prefs.Notifications)
	assert.Equal(t, 100, prefs.MaxSearchHistory)

	theme := "dark"
	notify := false
	saved, err := s.SavePreferences(ctx, "user-1", domain.PreferencesUpdate{Theme: &theme, Notifications: &notify})
	require.NoError(t, err)
	assert.Equal(t, "dark", saved.Theme)
	assert.False(t, saved.Notifications)
	assert.Equal(t, []string{"Cat Facts", "Weather"}, saved.DefaultAPIs)

	reloaded, err := s.GetPreferences(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "dark", reloaded.Theme)
}

func TestSaveSearchTrimsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	limit := 2
	_, err := s.SavePreferences(ctx, "user-1", domain.PreferencesUpdate{MaxSearchHistory: &limit})
	require.NoError(t, err)

	for _, q := range []string{"one", "two", "three"} {
		_, err := s.SaveSearch(ctx, "user-1", domain.NewSearch{Query: q, Success: true})
		require.NoError(t, err)
	}

	history, err := s.GetSearchHistory(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "three", history[0].Query)
	assert.Equal(t, "two", history[1].Query)
}

func TestDeleteAndClearSearches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mine, err := s.SaveSearch(ctx, "user-1", domain.NewSearch{Query: "mine", Provider: domain.ProviderWeather})
	require.NoError(t, err)
	_, err = s.SaveSearch(ctx, "user-2", domain.NewSearch{Query: "theirs"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteSearch(ctx, "user-2", mine.ID), ErrNotFound)
	require.NoError(t, s.DeleteSearch(ctx, "user-1", mine.ID))
	assert.ErrorIs(t, s.DeleteSearch(ctx, "user-1", mine.ID), ErrNotFound)

	require.NoError(t, s.ClearSearchHistory(ctx, "user-1"))
	others, err := s.GetSearchHistory(ctx, "user-2", 0)
	require.NoError(t, err)
	assert.Len(t, others, 1)
}

func TestChatMessagesOrderingAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kinds := []domain.MessageKind{
		domain.MessageUser, domain.MessageAPIResponse,
		domain.MessageUser, domain.MessageAPIResponse,
	}
	for i, k := range kinds {
		_, err := s.SaveChatMessage(ctx, "user-1", domain.NewChatMessage{
			Kind:    k,
			Content: string(rune('a' + i)),
			Success: true,
		})
		require.NoError(t, err)
	}

	all, err := s.GetChatMessages(ctx, "user-1", 3, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b", "c", "d"}, []string{all[0].Content, all[1].Content, all[2].Content})

	responses, err := s.GetChatMessages(ctx, "user-1", 10, domain.MessageAPIResponse)
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, "b", responses[0].Content)
	assert.Equal(t, "d", responses[1].Content)
}

func TestSaveChatMessageKeepsPreassignedID(t *testing.T) {
	s := newTestStore(t)
	msg, err := s.SaveChatMessage(context.Background(), "user-1", domain.NewChatMessage{
		ID:       "fixed-id",
		Kind:     domain.MessageAPIResponse,
		Content:  "hello",
		Provider: domain.ProviderCatFacts,
		Metadata: map[string]any{"processingTime": float64(12)},
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", msg.ID)

	got, err := s.GetChatMessages(context.Background(), "user-1", 1, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fixed-id", got[0].ID)
	assert.Equal(t, domain.ProviderCatFacts, got[0].Provider)
	assert.Equal(t, float64(12), got[0].Metadata["processingTime"])
}

func TestSaveChatMessageRejectsUnknownKind(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SaveChatMessage(context.Background(), "user-1", domain.NewChatMessage{Kind: "bogus"})
	assert.Error(t, err)
}

func TestTogglePinIsAFlip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg, err := s.SaveChatMessage(ctx, "user-1", domain.NewChatMessage{Kind: domain.MessageAPIResponse, Content: "x"})
	require.NoError(t, err)

	pinned, err := s.TogglePin(ctx, "user-1", msg.ID)
	require.NoError(t, err)
	assert.True(t, pinned)

	list, err := s.GetPinnedMessages(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	pinned, err = s.TogglePin(ctx, "user-1", msg.ID)
	require.NoError(t, err)
	assert.False(t, pinned)

	_, err = s.TogglePin(ctx, "user-2", msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err = s.GetChatMessages(ctx, "user-1", 10, "")
	require.NoError(t, err)
	assert.False(t, list[0].Pinned)
}

func TestClearChatMessagesIsolatesUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, user := range []string{"user-1", "user-1", "user-2"} {
		_, err := s.SaveChatMessage(ctx, user, domain.NewChatMessage{Kind: domain.MessageUser, Content: "hi"})
		require.NoError(t, err)
	}

	n, err := s.ClearChatMessages(ctx, "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	mine, err := s.GetChatMessages(ctx, "user-1", 100, "")
	require.NoError(t, err)
	assert.Empty(t, mine)

	theirs, err := s.GetChatMessages(ctx, "user-2", 100, "")
	require.NoError(t, err)
	assert.Len(t, theirs, 1)
}

func TestDeleteExpiredChatMessagesKeepsPinned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keep, err := s.SaveChatMessage(ctx, "user-1", domain.NewChatMessage{Kind: domain.MessageUser, Content: "keep"})
	require.NoError(t, err)
	_, err = s.SaveChatMessage(ctx, "user-1", domain.NewChatMessage{Kind: domain.MessageUser, Content: "drop"})
	require.NoError(t, err)
	_, err = s.TogglePin(ctx, "user-1", keep.ID)
	require.NoError(t, err)

	n, err := s.DeleteExpiredChatMessages(ctx, -time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	left, err := s.GetChatMessages(ctx, "user-1", 10, "")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "keep", left[0].Content)
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveSearch(ctx, "user-1", domain.NewSearch{Query: "q"})
	require.NoError(t, err)
	_, err = s.SaveChatMessage(ctx, "user-1", domain.NewChatMessage{Kind: domain.MessageUser, Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, s.RecordUsage(ctx, domain.UsageRecord{UserID: "user-1", Provider: domain.ProviderWeather, Endpoint: "weather"}))
	require.NoError(t, s.RecordUsage(ctx, domain.UsageRecord{UserID: "user-1", Provider: domain.ProviderWeather, Endpoint: "weather"}))

	stats, err := s.GetStats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalSearches)
	assert.Equal(t, 1, stats.TotalMessages)
	assert.Equal(t, 1, stats.TotalChatSessions)
	assert.NotNil(t, stats.LastActivity)
	assert.Equal(t, 2, stats.UsageByProvider[domain.ProviderWeather])

	empty, err := s.GetStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, empty.LastActivity)
	assert.Empty(t, empty.UsageByProvider)
}
