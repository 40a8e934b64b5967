// Package poll drives the relay: it long-polls the update source, advances
// the cursor, and feeds each event through the handler, sequentially.
package poll

import (
	"context"
	"log/slog"
	"time"

	"github.com/workglows/personabot/internal/dispatch"
)

// Source produces batches of pending events with ids greater than afterID,
// waiting server-side up to waitSeconds for new data.
type Source interface {
	FetchEvents(ctx context.Context, afterID int, waitSeconds int) ([]dispatch.Event, error)
}

// Handler processes one event (classify + respond). Errors are logged by the
// poller and never stop the loop.
type Handler func(ctx context.Context, ev dispatch.Event) error

// Options tune the loop timings. Zero values fall back to the platform
// defaults (30 s long-poll, 1 s idle sleep, 5 s backoff).
type Options struct {
	WaitSeconds int
	IdleSleep   time.Duration
	Backoff     time.Duration
}

// Poller is the single driver of work. One instance, one goroutine; the
// cursor only ever moves forward and is never shared.
type Poller struct {
	log    *slog.Logger
	src    Source
	handle Handler
	opts   Options

	cursor int

	// sleep is swapped out in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration)
}

// New wires a poller over the given source and handler.
func New(log *slog.Logger, src Source, handle Handler, opts Options) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if opts.WaitSeconds <= 0 {
		opts.WaitSeconds = 30
	}
	if opts.IdleSleep <= 0 {
		opts.IdleSleep = time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	return &Poller{
		log:    log.With(slog.String("component", "poll")),
		src:    src,
		handle: handle,
		opts:   opts,
		sleep:  sleepCtx,
	}
}

// Cursor returns the id of the last fully processed event.
func (p *Poller) Cursor() int {
	return p.cursor
}

// Run polls until ctx is cancelled. Fetch failures back off without moving
// the cursor; handler errors and panics degrade to log lines. This is the
// backstop of last resort: nothing that happens to a single event may stop
// the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poll loop started", slog.Int("wait_seconds", p.opts.WaitSeconds))
	for {
		if err := ctx.Err(); err != nil {
			p.log.Info("poll loop stopped")
			return err
		}
		events, err := p.src.FetchEvents(ctx, p.cursor, p.opts.WaitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				p.log.Info("poll loop stopped")
				return ctx.Err()
			}
			p.log.Warn("fetch failed, backing off", slog.Duration("backoff", p.opts.Backoff), slog.Any("error", err))
			p.sleep(ctx, p.opts.Backoff)
			continue
		}
		for _, ev := range events {
			if ctx.Err() != nil {
				p.log.Info("poll loop stopped")
				return ctx.Err()
			}
			p.cursor = ev.UpdateID
			p.dispatchOne(ctx, ev)
		}
		p.sleep(ctx, p.opts.IdleSleep)
	}
}

func (p *Poller) dispatchOne(ctx context.Context, ev dispatch.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("event handler panicked", slog.Int("update_id", ev.UpdateID), slog.Any("panic", r))
		}
	}()
	if err := p.handle(ctx, ev); err != nil {
		p.log.Error("event handling failed", slog.Int("update_id", ev.UpdateID), slog.Any("error", err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
