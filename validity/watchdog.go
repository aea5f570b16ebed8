package validity

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/varnet/health"
	"github.com/c360/varnet/metric"
)

// Wait describes a module blocked in a receive.
type Wait struct {
	Module   string
	Variable string
	Since    time.Time
	// Initial is true while the module has not completed its first blocking receive.
	Initial bool
}

type waitState struct {
	Wait
	reported bool
}

// WatchdogConfig configures the stall watchdog.
type WatchdogConfig struct {
	// Interval between checks
	Interval time.Duration
	// StallAfter is how long an initial receive may block before it is reported
	StallAfter time.Duration
}

// Watchdog detects modules whose main loop never completes its initial blocking receive.
// This is the symptom of a circular network that nobody started by writing an initial
// value. Reports go to the log, the health monitor and the metrics.
type Watchdog struct {
	cfg     WatchdogConfig
	logger  *slog.Logger
	monitor *health.Monitor
	metrics *metric.Metrics
	now     func() time.Time

	mu        sync.Mutex
	waits     map[string]*waitState
	completed map[string]bool
}

// NewWatchdog creates a watchdog. monitor and metrics may be nil.
func NewWatchdog(cfg WatchdogConfig, logger *slog.Logger, monitor *health.Monitor, metrics *metric.Metrics) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		cfg:       cfg,
		logger:    logger.With("component", "watchdog"),
		monitor:   monitor,
		metrics:   metrics,
		now:       time.Now,
		waits:     make(map[string]*waitState),
		completed: make(map[string]bool),
	}
}

// RegisterWait records that module is about to block on variable.
func (w *Watchdog) RegisterWait(module, variable string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waits[module] = &waitState{Wait: Wait{
		Module:   module,
		Variable: variable,
		Since:    w.now(),
		Initial:  !w.completed[module],
	}}
}

// Completed records that module received a value without blocking.
func (w *Watchdog) Completed(module string) {
	w.mu.Lock()
	w.completed[module] = true
	w.mu.Unlock()
}

// UnregisterWait records that module's blocking receive returned.
func (w *Watchdog) UnregisterWait(module string) {
	w.mu.Lock()
	st, ok := w.waits[module]
	delete(w.waits, module)
	w.completed[module] = true
	w.mu.Unlock()

	if ok && st.reported {
		w.logger.Info("Module resumed", "module", module, "variable", st.Variable)
		if w.monitor != nil {
			w.monitor.UpdateHealthy(module, "running")
		}
		if w.metrics != nil {
			w.metrics.StalledModules.Dec()
		}
	}
}

// Waiters returns all current waits sorted by module name.
func (w *Watchdog) Waiters() []Wait {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Wait, 0, len(w.waits))
	for _, st := range w.waits {
		out = append(out, st.Wait)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

// Check reports initial waits older than StallAfter that were not reported before. It
// returns the newly reported waits.
func (w *Watchdog) Check() []Wait {
	now := w.now()
	w.mu.Lock()
	var stalled []Wait
	for _, st := range w.waits {
		if st.reported || !st.Initial || now.Sub(st.Since) < w.cfg.StallAfter {
			continue
		}
		st.reported = true
		stalled = append(stalled, st.Wait)
	}
	w.mu.Unlock()

	sort.Slice(stalled, func(i, j int) bool { return stalled[i].Module < stalled[j].Module })
	for _, s := range stalled {
		w.logger.Warn("Module never completed its initial receive, a circular network may lack an initial value",
			"module", s.Module, "variable", s.Variable, "waited", now.Sub(s.Since))
		if w.monitor != nil {
			w.monitor.UpdateDegraded(s.Module, "waiting for initial value of "+s.Variable)
		}
		if w.metrics != nil {
			w.metrics.StalledModules.Inc()
			w.metrics.WatchdogReports.Inc()
		}
	}
	return stalled
}

// Run checks periodically until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}
