package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dshills/warden/internal/logging"
	"github.com/dshills/warden/internal/runtime"
)

// DefaultSchedule is how often the dispatcher looks for due executions.
const DefaultSchedule = "@every 1s"

// ErrNoIsolate is returned by RunOnce when there is no isolate to run in.
var ErrNoIsolate = errors.New("no main isolate")

// IsolateSource supplies the isolate scheduled executions run in.
// *runtime.Manager implements it.
type IsolateSource interface {
	MainIsolate() *runtime.Isolate
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSchedule sets the cron expression of the polling job.
func WithSchedule(spec string) DispatcherOption {
	return func(d *Dispatcher) {
		d.schedule = spec
	}
}

// WithDispatchCaps sets the capabilities granted to scheduled runs.
func WithDispatchCaps(caps ...string) DispatcherOption {
	return func(d *Dispatcher) {
		d.caps = caps
	}
}

// WithSpawnTimeout bounds each scheduled run.
func WithSpawnTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithNow sets the clock used to decide what is due.
func WithNow(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher runs scheduled executions once they come due.
type Dispatcher struct {
	host     *Host
	scripts  *Scripts
	source   IsolateSource
	schedule string
	caps     []string
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewDispatcher creates a dispatcher. Start begins polling.
func NewDispatcher(h *Host, scripts *Scripts, source IsolateSource, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		host:     h,
		scripts:  scripts,
		source:   source,
		schedule: DefaultSchedule,
		timeout:  30 * time.Second,
		now:      time.Now,
		cron:     cron.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.OrNop(d.logger).Named("dispatcher")
	return d
}

// Start schedules the polling job. It stops when ctx is cancelled or Stop
// is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	if _, err := cron.ParseStandard(d.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", d.schedule, err)
	}

	_, err := d.cron.AddFunc(d.schedule, func() {
		if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("dispatch failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule dispatch: %w", err)
	}

	d.cron.Start()
	d.running = true
	d.logger.Info("dispatcher started", zap.String("schedule", d.schedule))

	go func() {
		<-ctx.Done()
		d.Stop()
	}()
	return nil
}

// Stop stops polling and waits for a running dispatch to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	<-d.cron.Stop().Done()
	d.running = false
	d.logger.Info("dispatcher stopped")
}

// IsRunning reports whether the dispatcher is polling.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// NextRun returns the time of the next poll, or nil when not running.
func (d *Dispatcher) NextRun() *time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.cron.Entries()
	if !d.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// RunOnce takes every due execution and runs it. Executions are taken
// before they run, so each runs at most once. It returns the number of runs
// that completed without error.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	iso := d.source.MainIsolate()
	if iso == nil || iso.IsBroken() {
		return 0, ErrNoIsolate
	}

	due, err := d.host.store.TakeDue(ctx, d.now())
	if err != nil {
		return 0, err
	}

	ok := 0
	for _, exec := range due {
		if err := ctx.Err(); err != nil {
			return ok, err
		}
		if err := d.run(ctx, iso, exec); err != nil {
			d.logger.Warn("scheduled execution failed",
				zap.String("tenant", exec.TenantID),
				zap.String("id", exec.ID),
				zap.String("template", exec.TemplateName),
				zap.Error(err),
			)
			continue
		}
		ok++
	}
	return ok, nil
}

func (d *Dispatcher) run(ctx context.Context, iso *runtime.Isolate, exec DueExecution) error {
	code, err := d.scripts.Load(exec.TemplateName)
	if err != nil {
		return err
	}
	name, _ := d.scripts.Path(exec.TemplateName)

	pctx := d.host.NewContext(exec.TenantID,
		WithCaps(d.caps...),
		WithData(map[string]any{
			"event": "SCHEDULED_EXECUTION",
			"scheduled_execution": map[string]any{
				"id":            exec.ID,
				"template_name": exec.TemplateName,
				"data":          exec.Data,
				"run_at":        exec.RunAt,
			},
		}),
	)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	_, err = iso.Spawn(ctx, name, code, pctx)
	d.logger.Debug("scheduled execution finished",
		zap.String("tenant", exec.TenantID),
		zap.String("id", exec.ID),
		zap.Duration("took", time.Since(start)),
		zap.Error(err),
	)
	return err
}
