package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/commanddeck/internal/domain"
)

const (
	defaultSearchHistoryLimit = 50
	maxListLimit              = 1000
)

type searchHistoryQuery struct {
	Limit int `schema:"limit"`
}

// SaveSearchRequest is the body of POST /api/searches.
type SaveSearchRequest struct {
	Query    string          `json:"query"`
	API      domain.Provider `json:"api,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// SavedSearchResponse acknowledges a saved search.
type SavedSearchResponse struct {
	Success   bool            `json:"success"`
	ID        string          `json:"id"`
	Query     string          `json:"query"`
	API       domain.Provider `json:"api,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxListLimit)
}

// GetSearchHistory lists saved searches, newest first.
func (h *Handler) GetSearchHistory(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}
	params, err := ParseRequestQueryParams[searchHistoryQuery](r)
	if err != nil {
		return nil, err
	}

	history, err := h.repo.GetSearchHistory(r.Context(), userID, clampLimit(params.Limit, defaultSearchHistoryLimit))
	if err != nil {
		return nil, InternalError("Failed to fetch search history", err)
	}
	if history == nil {
		history = []*domain.SearchRecord{}
	}
	return history, nil
}

// SaveSearch records a search query.
func (h *Handler) SaveSearch(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}
	req, err := ParseRequest[SaveSearchRequest](r)
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "Query is required")
	}
	if req.API != "" && !req.API.Valid() {
		return nil, CodedErrorf(http.StatusBadRequest, "unknown api %q", req.API)
	}

	rec, err := h.repo.SaveSearch(r.Context(), userID, domain.NewSearch{
		Query:    query,
		Provider: req.API,
		Success:  true,
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, InternalError("Failed to save search query", err)
	}
	return SavedSearchResponse{
		Success:   true,
		ID:        rec.ID,
		Query:     rec.Query,
		API:       rec.Provider,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// DeleteSearch removes one saved search.
func (h *Handler) DeleteSearch(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}

	if err := h.repo.DeleteSearch(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		return nil, notFoundOr(err, "Search not found", "Failed to delete search from history")
	}
	return StatusResponse{Success: true, Message: "Search deleted"}, nil
}

// ClearSearchHistory removes every saved search.
func (h *Handler) ClearSearchHistory(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}

	if err := h.repo.ClearSearchHistory(r.Context(), userID); err != nil {
		return nil, InternalError("Failed to clear search history", err)
	}
	return StatusResponse{Success: true, Message: "Search history cleared"}, nil
}
