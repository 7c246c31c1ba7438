package api

import (
	"net/http"

	"github.com/ashureev/commanddeck/internal/domain"
	"github.com/ashureev/commanddeck/internal/identity"
)

// StatusResponse acknowledges a write.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UserResponse acknowledges a write that returns the user.
type UserResponse struct {
	StatusResponse
	User *domain.User `json:"user"`
}

// PreferencesResponse acknowledges a preferences write.
type PreferencesResponse struct {
	StatusResponse
	Preferences *domain.Preferences `json:"preferences"`
}

func requireUserID(r *http.Request) (string, error) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		return "", CodedErrorf(http.StatusUnauthorized, "User not found")
	}
	return userID, nil
}

// SyncUser returns the user the auth middleware created or refreshed.
func (h *Handler) SyncUser(r *http.Request) (any, error) {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		return nil, CodedErrorf(http.StatusUnauthorized, "User not found")
	}
	return UserResponse{
		StatusResponse: StatusResponse{Success: true, Message: "User data synced"},
		User:           user,
	}, nil
}

// GetProfile returns the stored profile.
func (h *Handler) GetProfile(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		return nil, notFoundOr(err, "User not found", "Failed to fetch user profile")
	}
	return user, nil
}

// UpdateProfile applies the application-owned profile fields.
func (h *Handler) UpdateProfile(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}

	update, err := ParseRequest[domain.ProfileUpdate](r)
	if err != nil {
		return nil, err
	}
	if update.Empty() {
		return nil, CodedErrorf(http.StatusBadRequest, "no profile fields to update")
	}

	user, err := h.repo.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		return nil, notFoundOr(err, "User not found", "Failed to update user profile")
	}
	return UserResponse{
		StatusResponse: StatusResponse{Success: true, Message: "Profile updated successfully"},
		User:           user,
	}, nil
}

// GetPreferences returns preferences, creating defaults on first access.
func (h *Handler) GetPreferences(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}

	prefs, err := h.repo.GetPreferences(r.Context(), userID)
	if err != nil {
		return nil, InternalError("Failed to fetch user preferences", err)
	}
	return prefs, nil
}

// SavePreferences merges a partial preferences update.
func (h *Handler) SavePreferences(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}

	update, err := ParseRequest[domain.PreferencesUpdate](r)
	if err != nil {
		return nil, err
	}
	if update.MaxSearchHistory != nil && *update.MaxSearchHistory < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "maxSearchHistory must not be negative")
	}

	prefs, err := h.repo.SavePreferences(r.Context(), userID, update)
	if err != nil {
		return nil, InternalError("Failed to save user preferences", err)
	}
	return PreferencesResponse{
		StatusResponse: StatusResponse{Success: true, Message: "Preferences saved"},
		Preferences:    prefs,
	}, nil
}

// GetStats summarizes the user's activity.
func (h *Handler) GetStats(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}

	stats, err := h.repo.GetStats(r.Context(), userID)
	if err != nil {
		return nil, InternalError("Failed to fetch user stats", err)
	}
	return stats, nil
}
