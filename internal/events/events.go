// Package events tracks live pipeline runs and mirrors their lifecycle
// notifications onto NATS.
//
// The registry keeps an in-memory snapshot of every run so the HTTP API
// can answer status lookups without touching the bus, and publishes each
// event to a per-session subject so SSE handlers and external consumers
// can follow a whole session with one wildcard subscription.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/config"
	"github.com/lawbranch/geogate/internal/pipeline"
)

// runTTL is how long finished runs stay readable in the registry so
// late pollers can still fetch the outcome.
const runTTL = time.Hour

// sweepInterval is how often the registry scans for expired runs.
const sweepInterval = time.Minute

// Status labels the phase of a tracked run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is the registry's snapshot of one pipeline session. Step holds the
// most recently reported stage; Error carries either the absorbed stage
// error of a degraded-but-completed run or the terminal failure.
type Run struct {
	SessionID string            `json:"session_id"`
	Status    Status            `json:"status"`
	Step      pipeline.Step     `json:"step,omitempty"`
	Decision  pipeline.Decision `json:"decision,omitempty"`
	Error     string            `json:"error,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Registry tracks run lifecycles in memory and publishes every event to
// NATS for streaming.
//
// Events are published to subjects:
//   - <prefix>.<session_id>.<step>.started
//   - <prefix>.<session_id>.<step>.stage
//   - <prefix>.<session_id>.<step>.error
//   - <prefix>.<session_id>.run.completed
//
// where <step> is the pipeline step the event reports on and the literal
// token "run" stands in for events that describe the whole session.
//
// A registry constructed with a nil connection degrades to in-memory
// tracking only; publishing is skipped.
type Registry struct {
	nats   *nats.Conn
	prefix string
	logger *zap.Logger
	runs   sync.Map // session_id -> Run

	sweepOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewRegistry creates a registry publishing under the given subject
// prefix. nc may be nil when no event bus is configured.
func NewRegistry(nc *nats.Conn, prefix string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		nats:   nc,
		prefix: prefix,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Connect dials the configured NATS server and returns a registry
// publishing under the configured subject prefix.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*Registry, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
	}
	if logger != nil {
		logger.Info("connected to nats", zap.String("url", cfg.URL))
	}
	return NewRegistry(nc, cfg.SubjectPrefix, logger), nil
}

// Callback returns the hook to install on a pipeline runner. It records
// the event into the registry and publishes it to NATS. Publish failures
// are logged and swallowed: callbacks run inline on the run goroutine
// and a broken event bus must not fail an analysis.
func (r *Registry) Callback() pipeline.EventCallback {
	return func(event pipeline.Event) {
		r.record(event)
		if err := r.publish(event); err != nil {
			r.logger.Warn("run event publish failed",
				zap.String("session_id", event.SessionID),
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}
}

// Connected reports whether a live NATS connection backs the registry.
func (r *Registry) Connected() bool {
	return r.nats != nil && r.nats.IsConnected()
}

// Get returns the snapshot of one run.
func (r *Registry) Get(sessionID string) (Run, error) {
	value, ok := r.runs.Load(sessionID)
	if !ok {
		return Run{}, fmt.Errorf("run not found: %s", sessionID)
	}
	return value.(Run), nil
}

// Subscribe delivers every event published for one session over the
// returned channel until the subscription is unsubscribed. The caller
// owns both: unsubscribe when the consumer goes away.
func (r *Registry) Subscribe(sessionID string) (*nats.Subscription, chan *nats.Msg, error) {
	if r.nats == nil {
		return nil, nil, errors.New("event streaming requires a nats connection")
	}
	ch := make(chan *nats.Msg, 64)
	sub, err := r.nats.ChanSubscribe(fmt.Sprintf("%s.%s.>", r.prefix, sessionID), ch)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to run events: %w", err)
	}
	return sub, ch, nil
}

// Close stops the TTL sweeper and closes the underlying NATS
// connection. Safe on a registry constructed without one, and safe to
// call more than once.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	if r.nats != nil {
		r.nats.Close()
	}
}

// record folds one event into the run snapshot. Snapshots are stored by
// value and replaced whole, so readers never observe a partial update.
func (r *Registry) record(event pipeline.Event) {
	run := Run{
		SessionID: event.SessionID,
		Status:    StatusRunning,
		StartedAt: event.At,
	}
	if value, ok := r.runs.Load(event.SessionID); ok {
		run = value.(Run)
	}
	run.UpdatedAt = event.At
	if event.Step != "" {
		run.Step = event.Step
	}

	switch event.Type {
	case pipeline.EventRunCompleted:
		run.Status = StatusCompleted
		if event.Decision != "" {
			run.Decision = event.Decision
		}
		if event.Error != "" {
			run.Error = event.Error
		}
		r.startSweeper()
	case pipeline.EventRunFailed:
		run.Status = StatusFailed
		run.Error = event.Error
		r.startSweeper()
	}

	r.runs.Store(event.SessionID, run)
}

// publish marshals the event and sends it to the session subject.
func (r *Registry) publish(event pipeline.Event) error {
	if r.nats == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling run event: %w", err)
	}
	if err := r.nats.Publish(r.subject(event), data); err != nil {
		return fmt.Errorf("publishing %s event: %w", event.Type, err)
	}
	return nil
}

// subject builds <prefix>.<session_id>.<step>.<type>. NATS subjects
// cannot contain empty tokens, so session-level events that carry no
// step use the literal token "run".
func (r *Registry) subject(event pipeline.Event) string {
	step := string(event.Step)
	if step == "" {
		step = "run"
	}
	return fmt.Sprintf("%s.%s.%s.%s", r.prefix, event.SessionID, step, event.Type)
}

// startSweeper launches the single TTL sweep loop. Runs at most one
// goroutine per registry, started on the first finished run and
// stopped by Close.
func (r *Registry) startSweeper() {
	r.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-r.done:
					return
				case now := <-ticker.C:
					r.sweep(now)
				}
			}
		}()
	})
}

// sweep drops finished runs whose TTL has lapsed so the registry does
// not grow without bound. Running sessions are never swept.
func (r *Registry) sweep(now time.Time) {
	r.runs.Range(func(key, value any) bool {
		run := value.(Run)
		if run.Status != StatusRunning && now.Sub(run.UpdatedAt) >= runTTL {
			r.runs.Delete(key)
		}
		return true
	})
}
