// Package relay runs chat turns: it records the user message, streams the
// runtime's reply back to the caller and records the assistant message.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/runtime"
	"github.com/soyeahso/parley/internal/telemetry"
)

// partialWriteTimeout bounds the best-effort write of an aborted turn.
const partialWriteTimeout = 5 * time.Second

// TranscriptStore is the slice of the store the relay needs.
type TranscriptStore interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	AppendMessage(ctx context.Context, msg *domain.Message) error
	History(ctx context.Context, sessionID string) ([]domain.Message, error)
}

// Config controls turn execution.
type Config struct {
	DefaultModel   string
	TurnTimeout    time.Duration
	MaxConcurrent  int
	PersistPartial bool
}

// Notifier receives lifecycle events.
type Notifier interface {
	EmitAsync(ctx context.Context, event string, data map[string]any)
}

// Option customizes a Relay.
type Option func(*Relay)

// WithNotifier publishes a turn.completed event for every finished turn.
func WithNotifier(n Notifier) Option {
	return func(r *Relay) { r.notify = n }
}

// Relay executes chat turns against the runtime.
type Relay struct {
	cfg      Config
	store    TranscriptStore
	upstream runtime.Client
	fallback *FallbackGenerator
	slots    *semaphore.Weighted
	notify   Notifier
	log      *logging.Logger

	tracer   trace.Tracer
	turns    metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a Relay.
func New(cfg Config, store TranscriptStore, upstream runtime.Client, fallback *FallbackGenerator, log *logging.Logger, opts ...Option) *Relay {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 60 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 64
	}

	meter := telemetry.Meter("parley/relay")
	turns, _ := meter.Int64Counter("parley.relay.turns",
		metric.WithDescription("Chat turns by outcome"))
	duration, _ := meter.Float64Histogram("parley.relay.turn.duration",
		metric.WithDescription("Chat turn wall time (ms)"),
		metric.WithUnit("ms"))

	r := &Relay{
		cfg:      cfg,
		store:    store,
		upstream: upstream,
		fallback: fallback,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:      log.Sub("relay"),
		tracer:   telemetry.Tracer("parley/relay"),
		turns:    turns,
		duration: duration,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenStream validates the turn, persists the user message and starts
// streaming the reply. Errors returned here mean no turn was started.
func (r *Relay) OpenStream(ctx context.Context, req TurnRequest) (*Stream, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, goerr.Wrap(domain.ErrValidation, "message text is empty", goerr.V("session_id", req.SessionID))
	}
	sess, err := r.session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	// The deadline covers the wait for a slot as well as the reply.
	turnCtx, cancel := context.WithTimeout(ctx, r.cfg.TurnTimeout)
	if err := r.slots.Acquire(turnCtx, 1); err != nil {
		cancel()
		r.log.Warn().Str("sessionId", sess.ID).Msg("no relay slot before turn deadline")
		return nil, abortErr(err)
	}

	user := domain.Message{
		SessionID: sess.ID,
		Role:      domain.RoleUser,
		Content:   req.Text,
		Timestamp: time.Now().UTC(),
	}
	if err := r.store.AppendMessage(turnCtx, &user); err != nil {
		r.slots.Release(1)
		cancel()
		if turnCtx.Err() != nil {
			return nil, abortErr(turnCtx.Err())
		}
		r.log.Error().Err(err).Str("sessionId", sess.ID).Msg("failed to persist user message")
		return nil, persistenceErr(err, "failed to persist user message", sess.ID)
	}

	model := r.pickModel(req.Model, sess)
	s := newStream(user, cancel)

	r.log.Info().
		Str("sessionId", sess.ID).
		Str("model", model).
		Int("textLen", len(req.Text)).
		Msg("turn started")

	go r.run(turnCtx, s, model)
	return s, nil
}

// Send runs a whole turn, handing each chunk to onChunk. An onChunk error
// cancels the turn.
func (r *Relay) Send(ctx context.Context, req TurnRequest, onChunk func(string) error) (*TurnResult, error) {
	s, err := r.OpenStream(ctx, req)
	if err != nil {
		return nil, err
	}
	for chunk := range s.Chunks() {
		if onChunk == nil {
			continue
		}
		if err := onChunk(chunk); err != nil {
			s.Cancel()
			for range s.Chunks() {
			}
			break
		}
	}
	return s.Wait()
}

// History returns the session transcript ordered by timestamp then insertion.
func (r *Relay) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if _, err := r.session(ctx, sessionID); err != nil {
		return nil, err
	}
	return r.store.History(ctx, sessionID)
}

func (r *Relay) session(ctx context.Context, id string) (*domain.Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, goerr.Wrap(domain.ErrValidation, "session id is required")
	}
	sess, err := r.store.GetSession(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, goerr.Wrap(domain.ErrValidation, "unknown session", goerr.V("session_id", id))
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (r *Relay) pickModel(requested string, sess *domain.Session) string {
	switch {
	case requested != "":
		return requested
	case sess.ModelID != "":
		return sess.ModelID
	default:
		return r.cfg.DefaultModel
	}
}

// run owns the turn from the first upstream byte to the terminal.
func (r *Relay) run(ctx context.Context, s *Stream, model string) {
	defer r.slots.Release(1)
	defer s.cancel()

	start := time.Now()
	sessionID := s.user.SessionID
	ctx, span := r.tracer.Start(ctx, "relay.turn", trace.WithAttributes(
		attribute.String("parley.session_id", sessionID),
		attribute.String("parley.model", model),
	))
	defer span.End()

	var buf strings.Builder
	chunks := 0
	forward := func(chunk string) error {
		select {
		case s.chunks <- chunk:
			buf.WriteString(chunk)
			chunks++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	degraded := false
	if err := r.relayUpstream(ctx, model, s.user.Content, forward); err != nil && ctx.Err() == nil {
		degraded = true
		span.AddEvent("fallback", trace.WithAttributes(attribute.String("error", err.Error())))
		r.log.Warn().Err(err).
			Str("sessionId", sessionID).
			Int("partialChunks", chunks).
			Msg("runtime unavailable, streaming fallback notice")
		_ = r.fallback.Emit(ctx, forward)
	}

	outcome := "complete"
	if degraded {
		outcome = "degraded"
	}
	// finish records the outcome before the caller can observe the terminal.
	finish := func(res *TurnResult, err error) {
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		r.turns.Add(context.WithoutCancel(ctx), 1, attrs)
		r.duration.Record(context.WithoutCancel(ctx), float64(time.Since(start).Milliseconds()), attrs)
		if r.notify != nil {
			var messageID string
			if res != nil {
				messageID = res.Assistant.ID
			}
			r.notify.EmitAsync(ctx, hooks.EventTurnCompleted, map[string]any{
				"sessionId": sessionID,
				"messageId": messageID,
				"model":     model,
				"outcome":   outcome,
				"chunks":    chunks,
			})
		}
		s.finish(res, err)
	}

	if ctx.Err() != nil {
		err := abortErr(ctx.Err())
		outcome = outcomeOf(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Warn().
			Str("sessionId", sessionID).
			Str("outcome", outcome).
			Int("chunks", chunks).
			Bool("persistPartial", r.cfg.PersistPartial).
			Msg("turn aborted")
		if r.cfg.PersistPartial && buf.Len() > 0 {
			r.persistPartial(ctx, s.user, buf.String())
		}
		finish(nil, err)
		return
	}

	reply := r.assistantMessage(s.user, buf.String())
	if err := r.store.AppendMessage(ctx, &reply); err != nil {
		if ctx.Err() != nil {
			err = abortErr(ctx.Err())
		} else {
			err = persistenceErr(err, "failed to persist assistant message", sessionID)
		}
		outcome = outcomeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Error().Err(err).Str("sessionId", sessionID).Msg("turn failed")
		finish(nil, err)
		return
	}

	r.log.Info().
		Str("sessionId", sessionID).
		Str("messageId", reply.ID).
		Bool("degraded", degraded).
		Int("chunks", chunks).
		Dur("duration", time.Since(start)).
		Msg("turn complete")

	finish(&TurnResult{
		User:      s.user,
		Assistant: reply,
		Model:     model,
		Degraded:  degraded,
		Chunks:    chunks,
	}, nil)
}

// relayUpstream forwards runtime chunks until the stream completes. Any
// returned error while ctx is live means the runtime failed.
func (r *Relay) relayUpstream(ctx context.Context, model, prompt string, forward func(string) error) error {
	events, err := r.upstream.Stream(ctx, runtime.StreamRequest{Model: model, Prompt: prompt})
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: stream ended without completion", domain.ErrUpstream)
			}
			switch ev.Type {
			case runtime.EventChunk:
				if err := forward(ev.Content); err != nil {
					return err
				}
			case runtime.EventDone:
				return nil
			case runtime.EventError:
				if ev.Err == nil {
					return fmt.Errorf("%w: stream failed", domain.ErrUpstream)
				}
				return ev.Err
			}
		}
	}
}

func (r *Relay) assistantMessage(user domain.Message, content string) domain.Message {
	ts := time.Now().UTC()
	if ts.Before(user.Timestamp) {
		ts = user.Timestamp
	}
	return domain.Message{
		SessionID: user.SessionID,
		Role:      domain.RoleAssistant,
		Content:   content,
		Timestamp: ts,
	}
}

func (r *Relay) persistPartial(ctx context.Context, user domain.Message, content string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), partialWriteTimeout)
	defer cancel()
	msg := r.assistantMessage(user, content)
	if err := r.store.AppendMessage(wctx, &msg); err != nil {
		r.log.Error().Err(err).Str("sessionId", user.SessionID).Msg("failed to persist partial reply")
		return
	}
	r.log.Debug().Str("sessionId", user.SessionID).Str("messageId", msg.ID).Msg("partial reply persisted")
}

func abortErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return goerr.Wrap(domain.ErrTurnTimeout, "turn deadline exceeded")
	}
	return goerr.Wrap(domain.ErrCanceled, "turn canceled")
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrTurnTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrCanceled):
		return "canceled"
	default:
		return "error"
	}
}

func persistenceErr(err error, msg, sessionID string) error {
	if !errors.Is(err, domain.ErrPersistence) {
		err = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return goerr.Wrap(err, msg, goerr.V("session_id", sessionID))
}
