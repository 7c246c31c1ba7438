package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/commanddeck/internal/domain"
	"github.com/ashureev/commanddeck/internal/identity"
	"github.com/ashureev/commanddeck/internal/shared"
)

const testSecret = "session-test-secret"

type fakeUsers struct {
	fail bool
}

func (f *fakeUsers) GetOrCreateUser(_ context.Context, id *domain.Identity) (*domain.User, error) {
	if f.fail {
		return nil, errors.New("database unavailable")
	}
	return &domain.User{ID: "user-" + id.Subject}, nil
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type testServer struct {
	*httptest.Server
	store *memoryStore
}

func newTestServer(t *testing.T, users *fakeUsers, limiter *shared.KeyedLimiter) *testServer {
	t.Helper()
	return newTestServerWith(t, users, limiter, PipelineConfig{}, HandlerConfig{})
}

func newTestServerWith(t *testing.T, users *fakeUsers, limiter *shared.KeyedLimiter, pcfg PipelineConfig, hcfg HandlerConfig) *testServer {
	t.Helper()

	verifier, err := identity.NewJWTVerifier(identity.JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	store := &memoryStore{}
	pipeline := NewPipeline(&fakeDispatcher{result: catFact()}, store, pcfg)
	hub := NewHub(16, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	hcfg.AllowedOrigins = []string{"*"}
	h := NewHandler(verifier, users, pipeline, hub, limiter, hcfg)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &testServer{Server: srv, store: store}
}

func (s *testServer) dial(t *testing.T, subject string) *websocket.Conn {
	t.Helper()
	token, err := identity.SignHS256(testSecret, domain.Identity{Subject: subject}, time.Minute, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(s.URL, "http")+"?token="+token, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.CloseNow() })

	// pong proves the session is registered and reading
	send(t, conn, EventPing, nil)
	readUntil(t, conn, EventPong)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(outboundMessage{Type: event, Data: data})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) wireMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", event)
		var msg wireMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == event {
			return msg
		}
	}
}

func readStatus(t *testing.T, conn *websocket.Conn, status string) CommandStatus {
	t.Helper()
	for {
		msg := readUntil(t, conn, EventCommandStatus)
		var s CommandStatus
		require.NoError(t, json.Unmarshal(msg.Data, &s))
		if s.Status == status {
			return s
		}
	}
}

func TestHandlerRejectsMissingToken(t *testing.T) {
	srv := newTestServer(t, &fakeUsers{}, nil)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "access token required", body["error"])
}

func TestHandlerRejectsBadToken(t *testing.T) {
	srv := newTestServer(t, &fakeUsers{}, nil)

	resp, err := http.Get(srv.URL + "?token=not-a-jwt")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerCommandFlow(t *testing.T) {
	srv := newTestServer(t, &fakeUsers{}, nil)
	conn := srv.dial(t, "sub-a")

	send(t, conn, EventChatCommand, ChatCommand{Command: "get cat fact", Timestamp: 7})

	msg := readUntil(t, conn, EventAPIResponse)
	var resp APIResponse
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	assert.Equal(t, "Cats sleep a lot.", resp.Result)
	assert.Equal(t, domain.ProviderCatFacts, resp.API)
	assert.Equal(t, int64(7), resp.ClientTimestamp)

	status := readStatus(t, conn, StatusSuccess)
	assert.Equal(t, successMessage, status.Message)
	assert.Contains(t, srv.store.kinds(), domain.MessageUser)
}

func TestHandlerAnswersInArrivalOrderWhenMailboxFull(t *testing.T) {
	srv := newTestServerWith(t, &fakeUsers{}, nil,
		PipelineConfig{StepDelay: 20 * time.Millisecond},
		HandlerConfig{MailboxSize: 1})
	conn := srv.dial(t, "alice")

	commands := []string{"cmd-1", "cmd-2", "cmd-3", "cmd-4"}
	for _, c := range commands {
		send(t, conn, EventChatCommand, ChatCommand{Command: c})
	}

	var got []string
	for range commands {
		msg := readUntil(t, conn, EventAPIResponse)
		var r APIResponse
		require.NoError(t, json.Unmarshal(msg.Data, &r))
		assert.True(t, r.Success, "command %s", r.Command)
		got = append(got, r.Command)
	}
	assert.Equal(t, commands, got)
}

func TestHandlerContinuesWhenUserSyncFails(t *testing.T) {
	srv := newTestServer(t, &fakeUsers{fail: true}, nil)
	conn := srv.dial(t, "sub-a")

	send(t, conn, EventChatCommand, ChatCommand{Command: "get cat fact"})
	readStatus(t, conn, StatusSuccess)
	assert.Empty(t, srv.store.kinds())
}

func TestHandlerRateLimit(t *testing.T) {
	srv := newTestServer(t, &fakeUsers{}, shared.NewKeyedLimiter(0.001, 1))
	conn := srv.dial(t, "sub-a")

	send(t, conn, EventChatCommand, ChatCommand{Command: "get cat fact"})
	readStatus(t, conn, StatusSuccess)

	send(t, conn, EventChatCommand, ChatCommand{Command: "get cat fact"})
	status := readStatus(t, conn, StatusError)
	assert.Equal(t, CodeRateLimited, status.ErrorCode)
}

func TestHandlerPresence(t *testing.T) {
	srv := newTestServer(t, &fakeUsers{}, nil)
	a := srv.dial(t, "sub-a")
	b := srv.dial(t, "sub-b")

	send(t, a, EventTypingStart, nil)
	msg := readUntil(t, b, EventUserTyping)
	var typing UserTyping
	require.NoError(t, json.Unmarshal(msg.Data, &typing))
	assert.Equal(t, UserTyping{UserID: "sub-a", IsTyping: true}, typing)

	require.NoError(t, a.Close(websocket.StatusNormalClosure, "bye"))
	msg = readUntil(t, b, EventUserTyping)
	require.NoError(t, json.Unmarshal(msg.Data, &typing))
	assert.Equal(t, UserTyping{UserID: "sub-a", IsTyping: false}, typing)
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"*"}, originPatterns([]string{"https://app.example.com"}, true))
	assert.Equal(t, []string{"*"}, originPatterns([]string{"https://app.example.com", "*"}, false))
	assert.Equal(t, []string{"app.example.com", "localhost:3000"},
		originPatterns([]string{"https://app.example.com", " localhost:3000 ", ""}, false))
}
