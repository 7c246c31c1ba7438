package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/commanddeck/internal/domain"
)

const (
	defaultChatLimit = 100
	allMessageKinds  = "all"
)

type chatMessagesQuery struct {
	Limit int    `schema:"limit"`
	Type  string `schema:"type"`
}

// ChatMessageView is a stored message in the shape the console client renders.
type ChatMessageView struct {
	ID           string             `json:"id"`
	Command      string             `json:"command"`
	Result       string             `json:"result"`
	API          string             `json:"api"`
	Timestamp    int64              `json:"timestamp"`
	Pinned       bool               `json:"pinned"`
	MessageType  domain.MessageKind `json:"messageType"`
	Success      bool               `json:"success"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
}

// PinResponse acknowledges a pin toggle.
type PinResponse struct {
	Success bool   `json:"success"`
	Pinned  bool   `json:"pinned"`
	Message string `json:"message"`
}

// ClearResponse acknowledges a bulk delete.
type ClearResponse struct {
	StatusResponse
	Deleted int64 `json:"deleted"`
}

func toViews(msgs []*domain.ChatMessage) []ChatMessageView {
	views := make([]ChatMessageView, 0, len(msgs))
	for _, m := range msgs {
		api := string(m.Provider)
		if api == "" {
			api = "unknown"
		}
		views = append(views, ChatMessageView{
			ID:           m.ID,
			Command:      m.Command,
			Result:       m.Content,
			API:          api,
			Timestamp:    m.CreatedAt.UnixMilli(),
			Pinned:       m.Pinned,
			MessageType:  m.Kind,
			Success:      m.Success,
			ErrorMessage: m.ErrorText,
		})
	}
	return views
}

// GetChatMessages lists the latest messages in chronological order.
// type defaults to api_response; "all" returns every kind.
func (h *Handler) GetChatMessages(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}
	params, err := ParseRequestQueryParams[chatMessagesQuery](r)
	if err != nil {
		return nil, err
	}

	kind := domain.MessageAPIResponse
	switch params.Type {
	case "":
	case allMessageKinds:
		kind = ""
	default:
		kind = domain.MessageKind(params.Type)
		if !kind.Valid() {
			return nil, CodedErrorf(http.StatusBadRequest, "unknown message type %q", params.Type)
		}
	}

	msgs, err := h.repo.GetChatMessages(r.Context(), userID, clampLimit(params.Limit, defaultChatLimit), kind)
	if err != nil {
		return nil, InternalError("Failed to fetch chat messages", err)
	}
	return toViews(msgs), nil
}

// GetPinnedMessages lists pinned messages, newest first.
func (h *Handler) GetPinnedMessages(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}

	msgs, err := h.repo.GetPinnedMessages(r.Context(), userID)
	if err != nil {
		return nil, InternalError("Failed to fetch pinned messages", err)
	}
	return toViews(msgs), nil
}

// TogglePin flips the pin flag of one message.
func (h *Handler) TogglePin(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}
	messageID := chi.URLParam(r, "messageId")
	if messageID == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "Message ID is required")
	}

	pinned, err := h.repo.TogglePin(r.Context(), userID, messageID)
	if err != nil {
		return nil, notFoundOr(err, "Message not found", "Failed to toggle message pin")
	}

	state := "unpinned"
	if pinned {
		state = "pinned"
	}
	return PinResponse{
		Success: true,
		Pinned:  pinned,
		Message: fmt.Sprintf("Message %s successfully", state),
	}, nil
}

// ClearChatMessages deletes every stored message.
func (h *Handler) ClearChatMessages(r *http.Request) (any, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return nil, err
	}

	n, err := h.repo.ClearChatMessages(r.Context(), userID)
	if err != nil {
		return nil, InternalError("Failed to clear chat messages", err)
	}
	return ClearResponse{
		StatusResponse: StatusResponse{Success: true, Message: "Chat messages cleared successfully"},
		Deleted:        n,
	}, nil
}
