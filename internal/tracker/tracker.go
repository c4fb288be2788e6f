package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/sewaghar/internal/models"
)

// Position is one raw geolocation sample.
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	At        time.Time
}

// Source is the geolocation collaborator. Watch starts a continuous position
// watch: samples arrive on the first channel, a terminal acquisition failure
// (denied, unsupported, timeout) on the second. Both channels close when ctx
// is cancelled.
type Source interface {
	Watch(ctx context.Context) (<-chan Position, <-chan error, error)
}

// Publisher receives the throttled, status-tagged samples.
type Publisher interface {
	Publish(ctx context.Context, loc models.ProviderLocation) error
}

var ErrAlreadyTracking = errors.New("tracker already running")

// Tracker turns a high-frequency position watch into fixed-interval writes to
// the Publisher. The watch and the publish ticker are decoupled so write
// volume is bounded by the interval no matter how often the sensor reports:
// each tick publishes the most recent sample, and a tick that fires before
// the first sample is a no-op.
type Tracker struct {
	ProviderID string
	Source     Source
	Publisher  Publisher
	Logger     *slog.Logger

	// OnError is invoked at most once when position acquisition fails; the
	// tracker halts and does not retry.
	OnError func(error)

	// Now is a seam for tests; defaults to time.Now.
	Now func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(providerID string, src Source, pub Publisher, logger *slog.Logger) *Tracker {
	return &Tracker{ProviderID: providerID, Source: src, Publisher: pub, Logger: logger, Now: time.Now}
}

// Start begins the continuous position watch and the publish timer. At most
// one sample is published per interval. Returns ErrAlreadyTracking if the
// tracker is running.
func (t *Tracker) Start(status models.ProviderStatus, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("publish interval must be positive, got %s", interval)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		// The loop halts on its own after a source error; a closed done
		// channel means the previous session is over and can be reclaimed.
		select {
		case <-t.done:
			t.cancel()
			t.cancel, t.done = nil, nil
		default:
			return ErrAlreadyTracking
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	positions, errs, err := t.Source.Watch(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("starting position watch: %w", err)
	}

	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	go t.run(ctx, positions, errs, status, interval, done)
	return nil
}

// Stop halts the watch and the publish timer. Safe to call multiple times;
// when it returns, no further publishes will happen.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the tracking loop is alive.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (t *Tracker) run(ctx context.Context, positions <-chan Position, errs <-chan error, status models.ProviderStatus, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var latest *Position
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-positions:
			if !ok {
				return
			}
			latest = &p
		case err, ok := <-errs:
			if !ok {
				continue
			}
			// Acquisition failed: report once and halt. No automatic retry.
			if t.OnError != nil {
				t.OnError(err)
			} else if t.Logger != nil {
				t.Logger.Error("position acquisition failed", "provider_id", t.ProviderID, "error", err)
			}
			return
		case <-ticker.C:
			if latest == nil {
				continue
			}
			loc := models.ProviderLocation{
				ProviderID: t.ProviderID,
				Latitude:   latest.Latitude,
				Longitude:  latest.Longitude,
				Status:     status,
				Timestamp:  t.Now(),
			}
			// Location is best-effort telemetry: a failed publish is logged
			// and tracking continues.
			if err := t.Publisher.Publish(ctx, loc); err != nil && t.Logger != nil {
				t.Logger.Warn("location publish failed", "provider_id", t.ProviderID, "error", err)
			}
		}
	}
}
