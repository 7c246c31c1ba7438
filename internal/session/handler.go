package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/commanddeck/internal/domain"
	"github.com/ashureev/commanddeck/internal/identity"
	"github.com/ashureev/commanddeck/internal/shared"
)

const (
	defaultMailboxSize = 16
	readLimit          = 64 << 10
)

// HandlerConfig tunes the websocket endpoint.
type HandlerConfig struct {
	// AllowedOrigins are full origins or hosts; "*" allows any.
	AllowedOrigins []string
	// Dev accepts any origin.
	Dev          bool
	MailboxSize  int
	WriteTimeout time.Duration
}

// Handler upgrades authenticated requests to console sessions.
type Handler struct {
	verifier     identity.Verifier
	users        identity.UserResolver
	pipeline     *Pipeline
	hub          *Hub
	limiter      *shared.KeyedLimiter
	origins      []string
	mailboxSize  int
	writeTimeout time.Duration
}

// NewHandler creates the websocket handler. limiter may be nil.
func NewHandler(verifier identity.Verifier, users identity.UserResolver, pipeline *Pipeline, hub *Hub, limiter *shared.KeyedLimiter, cfg HandlerConfig) *Handler {
	h := &Handler{
		verifier:     verifier,
		users:        users,
		pipeline:     pipeline,
		hub:          hub,
		limiter:      limiter,
		origins:      originPatterns(cfg.AllowedOrigins, cfg.Dev),
		mailboxSize:  cfg.MailboxSize,
		writeTimeout: cfg.WriteTimeout,
	}
	if h.mailboxSize <= 0 {
		h.mailboxSize = defaultMailboxSize
	}
	return h
}

// job is one queued command. A non-nil reject skips dispatch and answers
// with the error protocol, keeping rejections in arrival order.
type job struct {
	cmd    ChatCommand
	reject error
}

// ServeHTTP implements http.Handler for the console websocket.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.verifier.Verify(r.Context(), identity.TokenFromRequest(r))
	if err != nil {
		slog.Warn("Rejecting websocket connection", "ip", identity.IPFromRequest(r), "error", err)
		identity.WriteUnauthorized(w, err)
		return
	}

	user, err := h.users.GetOrCreateUser(r.Context(), id)
	if err != nil {
		slog.Error("Failed to resolve user, continuing without persistence", "subject", id.Subject, "error", err)
		user = nil
	}

	sess := &domain.Session{
		ID:          uuid.NewString(),
		Identity:    *id,
		User:        user,
		ConnectedAt: time.Now(),
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "subject", id.Subject)
		return
	}
	conn.SetReadLimit(readLimit)

	client := newClient(sess, conn, h.writeTimeout)
	h.hub.Register(client)
	slog.Info("Console session started", "session_id", sess.ID, "subject", sess.Subject(), "user_id", sess.UserID())

	ctx, cancel := context.WithCancel(r.Context())
	mailbox := make(chan job, h.mailboxSize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.worker(ctx, client, mailbox)
	}()

	h.readLoop(ctx, client, mailbox)

	close(mailbox)
	cancel()
	wg.Wait()

	h.hub.Unregister(client)
	h.hub.Publish(sess.ID, EventUserTyping, UserTyping{UserID: sess.Subject(), IsTyping: false})
	if err := conn.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
		slog.Debug("Failed to close websocket", "session_id", sess.ID, "error", err)
	}
	slog.Info("Console session ended", "session_id", sess.ID, "subject", sess.Subject())
}

func (h *Handler) readLoop(ctx context.Context, c *Client, mailbox chan<- job) {
	sess := c.sess
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sess.ID)
			} else {
				slog.Debug("WebSocket read ended", "session_id", sess.ID, "error", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed message", "session_id", sess.ID, "error", err)
			continue
		}

		switch msg.Type {
		case EventChatCommand:
			var cmd ChatCommand
			if len(msg.Data) > 0 {
				if err := json.Unmarshal(msg.Data, &cmd); err != nil {
					slog.Debug("Malformed chat_command payload", "session_id", sess.ID, "error", err)
				}
			}

			j := job{cmd: cmd}
			if h.limiter != nil && !h.limiter.Allow(limiterKey(sess)) {
				j.reject = ErrRateLimited
			}
			// A full mailbox blocks the reader until the worker catches up.
			select {
			case mailbox <- j:
			case <-ctx.Done():
				return
			}
		case EventTypingStart, EventTypingStop:
			h.hub.Publish(sess.ID, EventUserTyping, UserTyping{
				UserID:   sess.Subject(),
				IsTyping: msg.Type == EventTypingStart,
			})
		case EventPing:
			if err := c.Emit(ctx, EventPong, nil); err != nil {
				slog.Debug("Failed to send pong", "session_id", sess.ID, "error", err)
			}
		default:
			slog.Debug("Ignoring unknown message type", "session_id", sess.ID, "type", msg.Type)
		}
	}
}

// worker runs queued commands one at a time in arrival order.
func (h *Handler) worker(ctx context.Context, c *Client, mailbox <-chan job) {
	for j := range mailbox {
		if ctx.Err() != nil {
			return
		}
		if j.reject != nil {
			h.pipeline.Reject(ctx, c.sess, j.cmd, c, j.reject)
			continue
		}
		h.pipeline.Run(ctx, c.sess, j.cmd, c)
	}
}

func limiterKey(sess *domain.Session) string {
	if id := sess.UserID(); id != "" {
		return id
	}
	return "sub:" + sess.Subject()
}

// originPatterns converts configured origins to the host patterns the
// websocket library matches against.
func originPatterns(allowed []string, dev bool) []string {
	if dev {
		return []string{"*"}
	}
	patterns := make([]string, 0, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
			continue
		case o == "*":
			return []string{"*"}
		case strings.Contains(o, "://"):
			if u, err := url.Parse(o); err == nil && u.Host != "" {
				patterns = append(patterns, u.Host)
			}
		default:
			patterns = append(patterns, o)
		}
	}
	return patterns
}
