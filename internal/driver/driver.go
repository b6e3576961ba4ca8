// Package driver runs a goal to completion: it owns the runtime, applies
// grant updates between ticks and persists every tick's outcome.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/msageha/goalrun/internal/artifact"
	"github.com/msageha/goalrun/internal/events"
	"github.com/msageha/goalrun/internal/ledger"
	"github.com/msageha/goalrun/internal/lock"
	"github.com/msageha/goalrun/internal/logging"
	"github.com/msageha/goalrun/internal/model"
	"github.com/msageha/goalrun/internal/notify"
	"github.com/msageha/goalrun/internal/policy"
	"github.com/msageha/goalrun/internal/report"
	"github.com/msageha/goalrun/internal/runtime"
)

// Stop reasons reported in Result.
const (
	StopSettled   = "settled"
	StopMaxTicks  = "max_ticks"
	StopCancelled = "cancelled"
)

// Result describes how a Run ended.
type Result struct {
	RunID   string
	Ticks   int
	Reason  string
	Summary model.Summary
}

// Driver owns a runtime. Only the goroutine running the driver may tick it
// or grant permissions on its policy.
type Driver struct {
	cfg      model.Config
	outDir   string
	logger   *logging.Logger
	notifier notify.Notifier
	now      func() time.Time

	interval time.Duration
	maxTicks int

	runLock *lock.RunLock
	store   *artifact.Store
	ledger  *ledger.DB
	watcher *policy.Watcher

	rt        *runtime.Runtime
	runID     string
	ticks     int // cumulative across resumed runs
	persisted int // records of rt's log already written out
	resumed   bool

	closeOnce sync.Once
	closeErr  error
}

type Option func(*Driver)

func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithNotifier alerts n when a task blocks and when the goal settles.
func WithNotifier(n notify.Notifier) Option {
	return func(d *Driver) { d.notifier = n }
}

// WithClock sets the clock for transition records and goal construction.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithInterval overrides runtime.tick_interval_ms.
func WithInterval(iv time.Duration) Option {
	return func(d *Driver) {
		if iv > 0 {
			d.interval = iv
		}
	}
}

// WithMaxTicks overrides runtime.max_ticks. Zero means until settled.
func WithMaxTicks(n int) Option {
	return func(d *Driver) {
		if n >= 0 {
			d.maxTicks = n
		}
	}
}

// Open locks the output directory, resumes the saved goal state if there is
// one and otherwise builds the goal from cfg.
func Open(cfg model.Config, opts ...Option) (*Driver, error) {
	d := &Driver{
		cfg:      cfg,
		outDir:   cfg.ResolvePath(cfg.Output.Dir),
		logger:   logging.Discard(),
		now:      func() time.Time { return time.Now().UTC() },
		interval: cfg.TickInterval(),
		maxTicks: cfg.Runtime.MaxTicks,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("driver")

	d.runLock = lock.New(artifact.LockPath(d.outDir))
	if err := d.runLock.TryLock(); err != nil {
		return nil, fmt.Errorf("driver lock: %w", err)
	}

	if err := d.init(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Driver) init() error {
	store, err := artifact.Open(d.outDir, artifact.Options{
		MaxLogBytes: d.cfg.Output.MaxLogBytes,
		Checksum:    d.cfg.Output.Checksum,
	})
	if err != nil {
		return err
	}
	d.store = store

	goal, pol, history, err := d.loadGoal()
	if err != nil {
		return err
	}

	grantsPath := d.cfg.ResolvePath(d.cfg.Policy.GrantsFile)
	if grantsPath != "" {
		fileGrants, err := policy.LoadGrantsFile(grantsPath)
		if err != nil {
			return fmt.Errorf("load grants file: %w", err)
		}
		for _, g := range fileGrants {
			pol.Grant(g)
		}
	}

	d.rt = runtime.New(goal, pol,
		runtime.WithClock(d.now),
		runtime.WithMaxApprovalAttempts(d.cfg.Runtime.MaxApprovalAttempts),
		runtime.WithLog(history),
	)
	d.persisted = d.rt.LogLen()

	if d.cfg.Output.Ledger {
		db, err := ledger.Open(artifact.LedgerPath(d.outDir))
		if err != nil {
			return err
		}
		d.ledger = db
		if d.runID, err = db.StartRun(goal.ID); err != nil {
			return err
		}
	} else if d.runID, err = model.GenerateID(model.IDTypeRun); err != nil {
		return err
	}

	if grantsPath != "" {
		if d.watcher, err = policy.NewWatcher(grantsPath, d.logger); err != nil {
			return err
		}
	}

	details := map[string]any{"resumed": d.resumed, "tasks": len(goal.Tasks)}
	if err := d.store.LogEvent(events.EventRunStarted, d.runID, goal.ID, details); err != nil {
		return err
	}
	d.logger.Info("run started run_id=%s goal=%s resumed=%t", d.runID, goal.ID, d.resumed)
	return nil
}

func (d *Driver) loadGoal() (*model.Goal, *policy.Policy, []model.TransitionRecord, error) {
	st, err := artifact.LoadState(d.outDir)
	switch {
	case err == nil:
		goal, pol := artifact.RestoreGoal(st)
		for _, g := range d.cfg.Policy.Grants {
			pol.Grant(g)
		}
		history, err := events.ReadTransitions(d.store.LogPath(), "")
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("read transition history: %v", err)
			history = nil
		}
		d.ticks = st.Ticks
		d.resumed = true
		return goal, pol, history, nil
	case errors.Is(err, artifact.ErrNoState):
		goal, err := d.cfg.BuildGoal(d.now())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build goal: %w", err)
		}
		return goal, policy.New(d.cfg.Policy.Grants...), nil, nil
	default:
		return nil, nil, nil, err
	}
}

func (d *Driver) RunID() string             { return d.runID }
func (d *Driver) Runtime() *runtime.Runtime { return d.rt }
func (d *Driver) Store() *artifact.Store    { return d.store }

// Run ticks until the goal settles, max ticks is reached or ctx is done.
// Cancellation is a normal stop, not an error.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var updates <-chan []string
	if d.watcher != nil {
		updates = d.watcher.Updates()
	}

	session := 0
	for {
		if reason, done := d.stopReason(session); done {
			return d.finish(reason)
		}
		select {
		case <-ctx.Done():
			return d.finish(StopCancelled)
		case grants := <-updates:
			if err := d.applyGrants(grants); err != nil {
				return Result{}, err
			}
		case <-ticker.C:
			if _, err := d.Step(); err != nil {
				return Result{}, err
			}
			session++
		}
	}
}

func (d *Driver) stopReason(session int) (string, bool) {
	if d.rt.Settled() {
		return StopSettled, true
	}
	if d.maxTicks > 0 && session >= d.maxTicks {
		return StopMaxTicks, true
	}
	return "", false
}

// Step applies any pending grant updates, ticks once and persists the
// result. It returns the number of transition records the tick appended.
func (d *Driver) Step() (int, error) {
	if err := d.drainGrants(); err != nil {
		return 0, err
	}
	n := d.rt.Tick()
	d.ticks++
	d.logger.Debug("tick=%d records=%d", d.ticks, n)
	if err := d.persist(); err != nil {
		return n, err
	}
	return n, nil
}

func (d *Driver) drainGrants() error {
	if d.watcher == nil {
		return nil
	}
	for {
		select {
		case grants := <-d.watcher.Updates():
			if err := d.applyGrants(grants); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Grant applies perm immediately and records it. Only call it from the
// goroutine that runs the driver.
func (d *Driver) Grant(perm string) error {
	return d.applyGrants([]string{perm})
}

func (d *Driver) applyGrants(grants []string) error {
	pol := d.rt.Policy()
	goalID := d.rt.Goal().ID
	for _, g := range grants {
		if g == "" || pol.Has(g) {
			continue
		}
		pol.Grant(g)
		d.logger.Info("grant applied permission=%s", g)
		if err := d.store.LogEvent(events.EventGrantApplied, d.runID, goalID, map[string]any{"permission": g}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) persist() error {
	goal := d.rt.Goal()
	fresh := d.rt.LogSince(d.persisted)
	if len(fresh) > 0 {
		if err := d.store.AppendLog(d.runID, goal.ID, fresh); err != nil {
			return err
		}
		if d.ledger != nil {
			if err := d.ledger.Append(d.runID, fresh...); err != nil {
				return fmt.Errorf("ledger append: %w", err)
			}
		}
		d.persisted = d.rt.LogLen()
		for _, rec := range fresh {
			if rec.State == model.StateBlocked {
				d.alert("goalrun: "+rec.TaskID+" blocked", rec.Note)
			}
		}
	}

	if err := d.store.SaveState(artifact.Snapshot(d.rt, d.runID, d.ticks)); err != nil {
		return err
	}
	return d.store.WriteReport(report.MarkdownData{
		RunID:       d.runID,
		Goal:        goal,
		Summary:     d.rt.Summary(),
		Grants:      d.rt.Policy().Grants(),
		Checkpoints: d.rt.Checkpoints(),
		Recent:      d.rt.Log(),
		Ticks:       d.ticks,
		GeneratedAt: d.now(),
	})
}

func (d *Driver) finish(reason string) (Result, error) {
	summary := d.rt.Summary()
	d.logger.Info("run stopped reason=%s ticks=%d done=%d pending=%d blocked=%d",
		reason, d.ticks, summary.Done, summary.Pending, summary.Blocked)

	if reason == StopSettled {
		details := map[string]any{"done": summary.Done, "pending": summary.Pending, "blocked": summary.Blocked}
		if err := d.store.LogEvent(events.EventRunSettled, d.runID, d.rt.Goal().ID, details); err != nil {
			return Result{}, err
		}
		d.alert("goalrun: "+d.rt.Goal().ID+" settled",
			fmt.Sprintf("done %d, blocked %d", summary.Done, summary.Blocked))
	}
	// A run that never ticked still leaves a snapshot behind.
	if err := d.persist(); err != nil {
		return Result{}, err
	}
	return Result{RunID: d.runID, Ticks: d.ticks, Reason: reason, Summary: summary}, nil
}

func (d *Driver) alert(title, message string) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(title, message); err != nil {
		d.logger.Warn("notify: %v", err)
	}
}

// Close releases the watcher, output files, ledger and lock. It is safe to
// call more than once.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		var errs []error
		if d.watcher != nil {
			errs = append(errs, d.watcher.Close())
		}
		if d.store != nil {
			errs = append(errs, d.store.Close())
		}
		if d.ledger != nil {
			errs = append(errs, d.ledger.Close())
		}
		errs = append(errs, d.runLock.Unlock())
		d.closeErr = errors.Join(errs...)
		if d.closeErr == nil {
			d.logger.Info("driver closed")
		}
	})
	return d.closeErr
}

// NotifyContext returns a context cancelled on the first SIGINT or SIGTERM.
// A second signal exits the process immediately.
func NotifyContext(parent context.Context, logger *logging.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal=%s, stopping after the current tick", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigCh)
			return
		}
		<-sigCh
		logger.Warn("received second signal, forcing exit")
		os.Exit(1)
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
