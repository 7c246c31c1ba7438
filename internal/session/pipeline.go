// Package session drives the per-connection command protocol: it persists
// commands, streams status updates, dispatches and reports results.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/commanddeck/internal/command"
	"github.com/ashureev/commanddeck/internal/domain"
)

var (
	// ErrStorage marks a failure persisting the inbound command.
	ErrStorage = errors.New("storage failure")
	// ErrRateLimited rejects commands over the per-user rate or mailbox capacity.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmptyCommand rejects blank commands.
	ErrEmptyCommand = errors.New("empty command")
)

const successMessage = "Command executed successfully"

var processingSteps = []string{
	"Processing your command",
	"Fetching data from API",
	"Analyzing response",
	"Preparing results",
}

var politeErrors = map[ErrorCode]string{
	CodeStorage:        "We couldn't save your command. Please try again.",
	CodeTimeout:        "The command took too long to complete. Please try again.",
	CodeRateLimited:    "You're sending commands too quickly. Please slow down.",
	CodeInvalidCommand: "Please enter a command. Type 'help' for available commands.",
	CodeUnknown:        "Something went wrong while processing your command. Please try again.",
}

// Emitter delivers one outbound event to a client.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Dispatcher turns a raw command into a result.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw string, sess *domain.Session) (command.Result, error)
}

// Store is the persistence the pipeline needs.
type Store interface {
	SaveChatMessage(ctx context.Context, userID string, msg domain.NewChatMessage) (*domain.ChatMessage, error)
	RecordUsage(ctx context.Context, rec domain.UsageRecord) error
}

// PipelineConfig tunes a Pipeline.
type PipelineConfig struct {
	// StepDelay is the pause after each processing step. Zero disables it.
	StepDelay time.Duration
	// StoreTimeout bounds each persistence call.
	StoreTimeout time.Duration
}

// Pipeline runs the status protocol for one command at a time.
// It is stateless between runs and safe for concurrent use.
type Pipeline struct {
	dispatcher   Dispatcher
	store        Store
	stepDelay    time.Duration
	storeTimeout time.Duration
}

// NewPipeline creates a pipeline over the given collaborators.
func NewPipeline(d Dispatcher, s Store, cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		dispatcher:   d,
		store:        s,
		stepDelay:    max(cfg.StepDelay, 0),
		storeTimeout: cfg.StoreTimeout,
	}
	if p.storeTimeout <= 0 {
		p.storeTimeout = 5 * time.Second
	}
	return p
}

// run tracks the protocol state of a single command.
type run struct {
	p          *Pipeline
	sess       *domain.Session
	in         ChatCommand
	out        Emitter
	start      time.Time
	processing bool
	terminal   bool
}

func (p *Pipeline) newRun(sess *domain.Session, in ChatCommand, out Emitter) *run {
	return &run{p: p, sess: sess, in: in, out: out, start: time.Now()}
}

// Run executes the full protocol for in, emitting every event to out.
// Exactly one terminal status is emitted, even if a collaborator panics.
func (p *Pipeline) Run(ctx context.Context, sess *domain.Session, in ChatCommand, out Emitter) {
	r := p.newRun(sess, in, out)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("command pipeline panic",
				"session_id", sess.ID,
				"command", in.Command,
				"panic", rec,
				"stack", string(debug.Stack()))
			r.fail(ctx, fmt.Errorf("pipeline panic: %v", rec))
		}
	}()
	r.execute(ctx)
}

// Reject answers in with the error protocol without dispatching it.
func (p *Pipeline) Reject(ctx context.Context, sess *domain.Session, in ChatCommand, out Emitter, reason error) {
	p.newRun(sess, in, out).fail(ctx, reason)
}

func (r *run) execute(ctx context.Context) {
	if strings.TrimSpace(r.in.Command) == "" {
		r.fail(ctx, ErrEmptyCommand)
		return
	}

	userID := r.sess.UserID()
	if userID != "" {
		saveCtx, cancel := context.WithTimeout(ctx, r.p.storeTimeout)
		_, err := r.p.store.SaveChatMessage(saveCtx, userID, domain.NewChatMessage{
			Kind:    domain.MessageUser,
			Content: r.in.Command,
			Command: r.in.Command,
			Success: true,
			Metadata: map[string]any{
				"timestamp": r.in.Timestamp,
				"sessionId": r.sess.ID,
			},
		})
		cancel()
		if err != nil {
			r.fail(ctx, fmt.Errorf("%w: save user message: %w", ErrStorage, err))
			return
		}
	}

	r.emitProcessing(ctx)
	r.emit(ctx, EventTypingIndicator, TypingIndicator{IsProcessing: true})

	for _, step := range processingSteps {
		r.emit(ctx, EventProcessingStep, ProcessingStep{Message: step, Timestamp: nowMillis()})
		if err := r.p.pause(ctx); err != nil {
			r.fail(ctx, err)
			return
		}
	}

	res, err := r.p.dispatcher.Dispatch(ctx, r.in.Command, r.sess)
	if err != nil {
		r.fail(ctx, fmt.Errorf("dispatch: %w", err))
		return
	}

	elapsed := time.Since(r.start).Milliseconds()
	messageID := uuid.NewString()
	if userID != "" {
		r.persistResult(ctx, userID, messageID, res, elapsed)
	}

	if res.ClearsHistory() {
		r.emit(ctx, EventClearChatHistory, nil)
	}
	r.emit(ctx, EventAPIResponse, APIResponse{
		ID:              messageID,
		Command:         r.in.Command,
		Result:          res.Text,
		API:             res.Provider,
		Timestamp:       nowMillis(),
		ClientTimestamp: r.in.Timestamp,
		ProcessingTime:  elapsed,
		Success:         true,
	})
	r.terminate(ctx, CommandStatus{
		Status:    StatusSuccess,
		Message:   successMessage,
		Timestamp: nowMillis(),
	})

	slog.Info("command executed",
		"session_id", r.sess.ID,
		"user", r.sess.Subject(),
		"endpoint", res.Endpoint,
		"processing_ms", elapsed)
}

// persistResult stores the answer and its usage record. Failures are logged
// only; the client still receives the result.
func (r *run) persistResult(ctx context.Context, userID, messageID string, res command.Result, elapsed int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.p.storeTimeout)
	defer cancel()

	_, err := r.p.store.SaveChatMessage(ctx, userID, domain.NewChatMessage{
		ID:             messageID,
		Kind:           domain.MessageAPIResponse,
		Content:        res.Text,
		Command:        r.in.Command,
		Provider:       res.Provider,
		ResponseStatus: 200,
		ResponseTimeMs: elapsed,
		Success:        true,
		Metadata: map[string]any{
			"processingTime": elapsed,
			"sessionId":      r.sess.ID,
		},
	})
	if err != nil {
		slog.Error("failed to persist command result", "user_id", userID, "message_id", messageID, "error", err)
	}

	rec := domain.UsageRecord{
		UserID:         userID,
		Provider:       res.Provider,
		Endpoint:       res.Endpoint,
		ResponseStatus: res.Status,
		ResponseTimeMs: res.Duration.Milliseconds(),
		CreatedAt:      time.Now(),
	}
	if !res.Success {
		rec.ErrorText = res.Text
	}
	if err := r.p.store.RecordUsage(ctx, rec); err != nil {
		slog.Warn("failed to record usage", "user_id", userID, "endpoint", res.Endpoint, "error", err)
	}
}

// fail runs the error protocol unless a terminal status already went out.
func (r *run) fail(ctx context.Context, cause error) {
	if r.terminal {
		slog.Error("command failed after terminal status", "session_id", r.sess.ID, "error", cause)
		return
	}

	code := classify(cause)
	text := politeErrors[code]
	elapsed := time.Since(r.start).Milliseconds()

	// Cancellation means the client disconnected; no error is recorded.
	abandoned := errors.Is(cause, context.Canceled)

	level := slog.LevelError
	switch {
	case abandoned:
		level = slog.LevelInfo
	case code == CodeRateLimited || code == CodeInvalidCommand:
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "command failed",
		"session_id", r.sess.ID,
		"user", r.sess.Subject(),
		"command", r.in.Command,
		"error_code", code,
		"error", cause)

	if userID := r.sess.UserID(); userID != "" && !abandoned {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.p.storeTimeout)
		_, err := r.p.store.SaveChatMessage(saveCtx, userID, domain.NewChatMessage{
			Kind:           domain.MessageError,
			Content:        "Error: " + text,
			Command:        r.in.Command,
			Provider:       domain.ProviderSystem,
			ResponseStatus: 500,
			ResponseTimeMs: elapsed,
			ErrorText:      text,
			Metadata: map[string]any{
				"errorCode":      string(code),
				"processingTime": elapsed,
				"sessionId":      r.sess.ID,
			},
		})
		cancel()
		if err != nil {
			slog.Error("failed to persist error message", "user_id", userID, "error", err)
		}
	}

	r.emitProcessing(ctx)
	r.terminal = true
	r.emit(ctx, EventCommandStatus, CommandStatus{
		Status:    StatusError,
		Error:     text,
		ErrorCode: code,
		Command:   r.in.Command,
		Timestamp: nowMillis(),
	})
	r.emit(ctx, EventAPIResponse, APIResponse{
		ID:              uuid.NewString(),
		Command:         r.in.Command,
		Result:          "Error: " + text,
		API:             domain.ProviderSystem,
		Timestamp:       nowMillis(),
		ClientTimestamp: r.in.Timestamp,
		ProcessingTime:  elapsed,
		Success:         false,
		Error:           true,
	})
	r.emit(ctx, EventTypingIndicator, TypingIndicator{IsProcessing: false})
}

func (r *run) terminate(ctx context.Context, status CommandStatus) {
	if r.terminal {
		return
	}
	r.terminal = true
	r.emit(ctx, EventCommandStatus, status)
	r.emit(ctx, EventTypingIndicator, TypingIndicator{IsProcessing: false})
}

func (r *run) emitProcessing(ctx context.Context) {
	if r.processing {
		return
	}
	r.processing = true
	r.emit(ctx, EventCommandStatus, CommandStatus{Status: StatusProcessing, Timestamp: nowMillis()})
}

func (r *run) emit(ctx context.Context, event string, payload any) {
	if err := r.out.Emit(ctx, event, payload); err != nil {
		slog.Debug("emit failed", "session_id", r.sess.ID, "event", event, "error", err)
	}
}

func (p *Pipeline) pause(ctx context.Context) error {
	if p.stepDelay == 0 {
		return nil
	}
	t := time.NewTimer(p.stepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func classify(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrEmptyCommand):
		return CodeInvalidCommand
	case errors.Is(err, ErrStorage):
		return CodeStorage
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeUnknown
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
