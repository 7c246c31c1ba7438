package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/commanddeck/internal/domain"
	"github.com/ashureev/commanddeck/internal/identity"
	"github.com/ashureev/commanddeck/internal/session"
)

func message(t *testing.T, event string, data any) envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return envelope{Type: event, Data: raw}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		msg  envelope
		want string
		show bool
	}{
		{
			name: "api response",
			msg:  message(t, session.EventAPIResponse, session.APIResponse{API: domain.ProviderCatFacts, Result: "Cats purr."}),
			want: "[Cat Facts] Cats purr.",
			show: true,
		},
		{
			name: "error status",
			msg:  message(t, session.EventCommandStatus, session.CommandStatus{Status: session.StatusError, ErrorCode: session.CodeRateLimited}),
			want: "! RATE_LIMITED",
			show: true,
		},
		{
			name: "processing status hidden",
			msg:  message(t, session.EventCommandStatus, session.CommandStatus{Status: session.StatusProcessing}),
		},
		{
			name: "typing",
			msg:  message(t, session.EventUserTyping, session.UserTyping{UserID: "sub-b", IsTyping: true}),
			want: "… sub-b is typing",
			show: true,
		},
		{
			name: "typing stop hidden",
			msg:  message(t, session.EventUserTyping, session.UserTyping{UserID: "sub-b"}),
		},
		{
			name: "notification",
			msg:  message(t, session.EventSystemNotification, session.SystemNotification{Message: "Server is shutting down"}),
			want: "* Server is shutting down",
			show: true,
		},
		{
			name: "clear history",
			msg:  envelope{Type: session.EventClearChatHistory},
			want: "-- history cleared --",
			show: true,
		},
		{
			name: "step hidden",
			msg:  message(t, session.EventProcessingStep, session.ProcessingStep{Message: "Analyzing response"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, show := render(tt.msg)
			assert.Equal(t, tt.show, show)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMintToken(t *testing.T) {
	secret, subject, tokenTTL = "cli-secret", "cli-user", time.Minute
	t.Cleanup(func() { secret, subject = "", "" })

	tok, err := mintToken()
	require.NoError(t, err)

	v, err := identity.NewJWTVerifier(identity.JWTConfig{Secret: "cli-secret"})
	require.NoError(t, err)
	id, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "cli-user", id.Subject)
}

func TestMintTokenRequiresSecret(t *testing.T) {
	secret = ""
	_, err := mintToken()
	assert.Error(t, err)
}
