package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/config"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/cooldown"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/health"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/lock"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/observability"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/runtime"
)

// SnapshotCollector abstracts health collection for the runner.
type SnapshotCollector interface {
	Collect(ctx context.Context) health.Snapshot
}

const logTailLines = 40

// Runner executes the recovery logic once per invocation.
type Runner struct {
	cfg           *config.Config
	collector     SnapshotCollector
	probe         runtime.Probe
	locker        lock.Manager
	cooldowns     cooldown.Manager
	reporter      Reporter
	sleep         func(time.Duration)
	now           func() time.Time
	checkDisabled func(string) (bool, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithSleepFunc overrides the sleep function used for settle and restart delays.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// WithTimeSource injects a custom time source, enabling deterministic tests.
func WithTimeSource(fn func() time.Time) Option {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithDisabledChecker overrides the function used to check the disable file.
func WithDisabledChecker(fn func(string) (bool, error)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.checkDisabled = fn
		}
	}
}

// WithReporter attaches an observability reporter to the runner.
func WithReporter(rep Reporter) Option {
	return func(r *Runner) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// WithCooldownManager attaches a restart cooldown manager.
func WithCooldownManager(mgr cooldown.Manager) Option {
	return func(r *Runner) {
		r.cooldowns = mgr
	}
}

// NewRunner constructs a Runner with the provided dependencies.
func NewRunner(cfg *config.Config, collector SnapshotCollector, probe runtime.Probe, locker lock.Manager, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if collector == nil {
		return nil, errors.New("snapshot collector must not be nil")
	}
	if probe == nil {
		return nil, errors.New("container probe must not be nil")
	}
	if locker == nil {
		return nil, errors.New("lock manager must not be nil")
	}

	runner := &Runner{
		cfg:           cfg,
		collector:     collector,
		probe:         probe,
		locker:        locker,
		reporter:      NoopReporter{},
		sleep:         time.Sleep,
		now:           time.Now,
		checkDisabled: defaultDisabledCheck,
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner, nil
}

// Thresholds returns the evaluation boundaries derived from the configuration.
func (r *Runner) Thresholds() health.Thresholds {
	return ThresholdsFromConfig(r.cfg)
}

// ThresholdsFromConfig translates configured limits into evaluator thresholds.
func ThresholdsFromConfig(cfg *config.Config) health.Thresholds {
	return health.Thresholds{
		SyncStall:        cfg.SyncStallThreshold(),
		MinPeers:         cfg.Thresholds.MinPeers,
		DiskWarnPercent:  cfg.Thresholds.DiskWarnPercent,
		DiskCritPercent:  cfg.Thresholds.DiskCritPercent,
		DiskFatalPercent: cfg.Thresholds.DiskFatalPercent,
		RAMWarnPercent:   cfg.Thresholds.RAMWarnPercent,
		RAMCritPercent:   cfg.Thresholds.RAMCritPercent,
	}
}

// RunOnce executes one recovery pass: probe, evaluate, decide, and perform at
// most one corrective action. There are no internal retries; overlapping
// schedules are expected to call again later.
func (r *Runner) RunOnce(ctx context.Context) (out Outcome, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		if err == nil && out.Status != "" {
			r.recordOutcome(ctx, out)
		}
	}()

	disabled, checkErr := r.checkDisabled(r.cfg.DisableFile)
	if checkErr != nil {
		return out, fmt.Errorf("check disable file: %w", checkErr)
	}
	if disabled {
		out.Status = StatusDisabled
		out.Message = fmt.Sprintf("automatic recovery disabled by %s", r.cfg.DisableFile)
		return out, nil
	}

	lease, acquireErr := r.locker.Acquire(ctx)
	if acquireErr != nil {
		if errors.Is(acquireErr, lock.ErrNotAcquired) {
			out.Status = StatusLockUnavailable
			out.Message = "another recovery pass holds the lock"
			return out, nil
		}
		return out, fmt.Errorf("acquire lock: %w", acquireErr)
	}
	out.LockAcquired = true
	defer r.releaseLease(ctx, lease, &err)

	snap, report := r.observe(ctx)
	out.Snapshot = &snap
	out.Report = &report

	decision := Decide(snap, report, r.Thresholds())
	out.Decision = decision
	r.recordDecision(ctx, decision)

	switch decision.Action {
	case ActionReportEngineDown:
		out.Status = StatusEngineUnreachable
		out.Message = decision.Reason
		return out, nil
	case ActionReportMissing:
		out.Status = StatusContainerMissing
		out.Message = decision.Reason + "; recreate it from the installer before re-enabling recovery"
		return out, nil
	case ActionReportDiskFull:
		out.Status = StatusDiskCritical
		out.Message = decision.Reason
		return out, nil
	case ActionNone:
		out.Status = StatusHealthy
		out.Message = decision.Reason
		return out, nil
	}

	// Starting stopped containers is not rate limited; repeated restarts of
	// running services are.
	if decision.Action != ActionStartStopped {
		withheld, remaining, cdErr := r.cooldownActive(ctx)
		if cdErr != nil {
			return out, fmt.Errorf("check restart cooldown: %w", cdErr)
		}
		if withheld {
			out.Status = StatusCooldownWithheld
			out.Message = fmt.Sprintf("%s; restart withheld, cooldown expires in %s", decision.Reason, remaining.Round(time.Second))
			return out, nil
		}
	}

	if r.cfg.DryRun {
		out.Status = StatusDryRun
		out.DryRun = true
		out.Message = fmt.Sprintf("dry run: would perform %s (%s)", decision.Action, decision.Reason)
		return out, nil
	}

	if decision.Action != ActionStartStopped {
		r.startCooldown(ctx)
	}

	switch decision.Action {
	case ActionStartStopped:
		out = r.startStopped(ctx, out, decision)
	case ActionFullRestart:
		out = r.fullRestart(ctx, out, decision)
	case ActionRestartExecution:
		out = r.restartExecution(ctx, out, decision)
	default:
		return out, fmt.Errorf("unhandled action %q", decision.Action)
	}
	return out, nil
}

// startStopped brings stopped containers back up in dependency order. The
// execution service comes first and gets a settle delay before the consensus
// service, which refuses to run without its execution endpoint.
func (r *Runner) startStopped(ctx context.Context, out Outcome, decision Decision) Outcome {
	ordered := []health.Role{health.RoleExecution, health.RoleConsensus}
	for _, role := range ordered {
		if !containsRole(decision.StoppedRoles, role) {
			continue
		}
		name := r.containerFor(role)
		if failed := r.startContainer(ctx, name); failed != nil {
			return r.actionFailed(ctx, out, name, failed)
		}
		r.sleepWithContext(ctx, r.cfg.StartSettle())
	}

	if failed, name := r.verifyRunning(ctx, r.cfg.Execution.Container, r.cfg.Consensus.Container); failed != nil {
		return r.actionFailed(ctx, out, name, failed)
	}

	out.Status = StatusRecoveredContainers
	out.Message = fmt.Sprintf("started stopped container(s): %s", decision.Reason)
	return out
}

// fullRestart bounces both services after a sync stall: consensus stops
// first, execution last; starts happen in the reverse order.
func (r *Runner) fullRestart(ctx context.Context, out Outcome, decision Decision) Outcome {
	if err := r.stopContainer(ctx, r.cfg.Consensus.Container, r.cfg.StopConsensusTimeout()); err != nil {
		return r.actionFailed(ctx, out, r.cfg.Consensus.Container, err)
	}
	if err := r.stopContainer(ctx, r.cfg.Execution.Container, r.cfg.StopExecutionTimeout()); err != nil {
		return r.actionFailed(ctx, out, r.cfg.Execution.Container, err)
	}
	r.sleepWithContext(ctx, r.cfg.RestartDelay())

	if err := r.startContainer(ctx, r.cfg.Execution.Container); err != nil {
		return r.actionFailed(ctx, out, r.cfg.Execution.Container, err)
	}
	r.sleepWithContext(ctx, r.cfg.StartSettle())
	if err := r.startContainer(ctx, r.cfg.Consensus.Container); err != nil {
		return r.actionFailed(ctx, out, r.cfg.Consensus.Container, err)
	}
	r.sleepWithContext(ctx, r.cfg.StartSettle())

	if failed, name := r.verifyRunning(ctx, r.cfg.Execution.Container, r.cfg.Consensus.Container); failed != nil {
		return r.actionFailed(ctx, out, name, failed)
	}

	out.Status = StatusRecoveredSync
	out.Message = fmt.Sprintf("full restart completed: %s", decision.Reason)
	return out
}

// restartExecution bounces only the execution service to rebuild its peer set.
func (r *Runner) restartExecution(ctx context.Context, out Outcome, decision Decision) Outcome {
	name := r.cfg.Execution.Container
	if err := r.stopContainer(ctx, name, r.cfg.StopExecutionTimeout()); err != nil {
		return r.actionFailed(ctx, out, name, err)
	}
	r.sleepWithContext(ctx, r.cfg.RestartDelay())
	if err := r.startContainer(ctx, name); err != nil {
		return r.actionFailed(ctx, out, name, err)
	}
	r.sleepWithContext(ctx, r.cfg.StartSettle())

	if failed, failedName := r.verifyRunning(ctx, name); failed != nil {
		return r.actionFailed(ctx, out, failedName, failed)
	}

	out.Status = StatusRecoveredPeers
	out.Message = fmt.Sprintf("execution restart completed: %s", decision.Reason)
	return out
}

func (r *Runner) containerFor(role health.Role) string {
	if role == health.RoleConsensus {
		return r.cfg.Consensus.Container
	}
	return r.cfg.Execution.Container
}

func containsRole(roles []health.Role, role health.Role) bool {
	for _, candidate := range roles {
		if candidate == role {
			return true
		}
	}
	return false
}

func (r *Runner) startContainer(ctx context.Context, name string) error {
	start := r.now()
	err := r.probe.Start(ctx, name)
	r.recordContainerAction(ctx, "start", name, r.now().Sub(start), err)
	if err != nil {
		return fmt.Errorf("%w: start %s: %v", ErrActionFailed, name, err)
	}
	return nil
}

func (r *Runner) stopContainer(ctx context.Context, name string, timeout time.Duration) error {
	start := r.now()
	err := r.probe.Stop(ctx, name, timeout)
	r.recordContainerAction(ctx, "stop", name, r.now().Sub(start), err)
	if err != nil {
		return fmt.Errorf("%w: stop %s: %v", ErrActionFailed, name, err)
	}
	return nil
}

// verifyRunning re-probes the named containers and returns the first failure.
func (r *Runner) verifyRunning(ctx context.Context, names ...string) (error, string) {
	for _, name := range names {
		state, err := r.probe.State(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: verify %s: %v", ErrActionFailed, name, err), name
		}
		if !state.Exists {
			return fmt.Errorf("%w: verify %s: container vanished", ErrActionFailed, name), name
		}
		if !state.Running {
			return fmt.Errorf("%w: verify %s: container not running after start", ErrActionFailed, name), name
		}
	}
	return nil, ""
}

func (r *Runner) actionFailed(ctx context.Context, out Outcome, container string, cause error) Outcome {
	out.Status = StatusActionFailed
	out.Message = fmt.Sprintf("%v; inspect %s manually before retrying", cause, container)
	out.LogTail = r.suspiciousLogLines(ctx, container)
	return out
}

// suspiciousLogLines tails the failed container and keeps lines that look
// like errors, giving the operator a head start on diagnosis.
func (r *Runner) suspiciousLogLines(ctx context.Context, container string) []string {
	lines, err := r.probe.TailLogs(ctx, container, logTailLines)
	if err != nil {
		return nil
	}
	keywords := []string{"error", "fatal", "panic", "failed", "unable"}
	var matched []string
	for _, line := range lines {
		lowered := strings.ToLower(line)
		for _, keyword := range keywords {
			if strings.Contains(lowered, keyword) {
				matched = append(matched, line)
				break
			}
		}
	}
	const keep = 10
	if len(matched) > keep {
		matched = matched[len(matched)-keep:]
	}
	return matched
}

func (r *Runner) cooldownActive(ctx context.Context) (bool, time.Duration, error) {
	if r.cooldowns == nil || r.cfg.MinRestartInterval() <= 0 {
		return false, 0, nil
	}
	status, err := r.cooldowns.Status(ctx)
	if err != nil {
		return false, 0, err
	}
	if !status.Active {
		return false, 0, nil
	}
	return true, status.Remaining, nil
}

// startCooldown opens the window before acting so a crashed pass still counts
// against the restart budget.
func (r *Runner) startCooldown(ctx context.Context) {
	if r.cooldowns == nil || r.cfg.MinRestartInterval() <= 0 {
		return
	}
	if err := r.cooldowns.Start(ctx, r.cfg.MinRestartInterval()); err != nil {
		r.reporter.RecordEvent(ctx, observability.Event{
			Level:  observability.LevelWarn,
			Node:   r.cfg.NodeName,
			Event:  "cooldown_record_failed",
			Fields: map[string]interface{}{"error": err.Error()},
		})
	}
}

func (r *Runner) observe(ctx context.Context) (health.Snapshot, health.Report) {
	start := r.now()
	snap := r.collector.Collect(ctx)
	duration := r.now().Sub(start)
	report := health.Evaluate(snap, r.Thresholds())

	r.reporter.RecordMetric(observability.Metric{
		Name:        "collect_seconds",
		Type:        observability.MetricHistogram,
		Value:       duration.Seconds(),
		Description: "Time spent probing containers, service APIs, and host resources.",
		Unit:        "seconds",
	})

	fields := map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
		"overall":     report.Worst().String(),
	}
	for _, v := range report.Verdicts {
		fields[string(v.Dimension)] = v.Severity.String()
	}
	level := observability.LevelInfo
	if report.Worst() == health.SeverityCritical {
		level = observability.LevelWarn
	}
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Node:   r.cfg.NodeName,
		Event:  "health_evaluated",
		Fields: fields,
	})

	return snap, report
}

func (r *Runner) recordDecision(ctx context.Context, decision Decision) {
	level := observability.LevelInfo
	if decision.Action != ActionNone {
		level = observability.LevelWarn
	}
	r.reporter.RecordEvent(ctx, observability.Event{
		Level: level,
		Node:  r.cfg.NodeName,
		Event: "recovery_decision",
		Fields: map[string]interface{}{
			"action": string(decision.Action),
			"reason": decision.Reason,
		},
	})
}

func (r *Runner) recordContainerAction(ctx context.Context, action, container string, duration time.Duration, actionErr error) {
	result := "success"
	level := observability.LevelInfo
	fields := map[string]interface{}{
		"action":      action,
		"container":   container,
		"duration_ms": duration.Milliseconds(),
	}
	if actionErr != nil {
		result = "error"
		level = observability.LevelError
		fields["error"] = actionErr.Error()
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "container_actions_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"action": action, "result": result},
		Description: "Number of container start and stop operations grouped by action and result.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Node:   r.cfg.NodeName,
		Event:  "container_action",
		Fields: fields,
	})
}

func (r *Runner) recordOutcome(ctx context.Context, out Outcome) {
	level := observability.LevelInfo
	if out.Status.Fatal() {
		level = observability.LevelError
	} else if out.Status == StatusCooldownWithheld || out.Status == StatusLockUnavailable {
		level = observability.LevelWarn
	}

	fields := map[string]interface{}{
		"status":        string(out.Status),
		"exit_code":     out.Status.ExitCode(),
		"dry_run":       out.DryRun,
		"lock_acquired": out.LockAcquired,
	}
	if out.Message != "" {
		fields["message"] = out.Message
	}
	if len(out.LogTail) > 0 {
		fields["log_tail"] = out.LogTail
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "recovery_passes_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"status": string(out.Status)},
		Description: "Number of recovery passes grouped by outcome status.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Node:   r.cfg.NodeName,
		Event:  "run_outcome",
		Fields: fields,
	})
}

func (r *Runner) releaseLease(ctx context.Context, lease lock.Lease, errPtr *error) {
	if lease == nil {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if releaseErr := lease.Release(releaseCtx); releaseErr != nil {
		r.reporter.RecordEvent(ctx, observability.Event{
			Level:  observability.LevelWarn,
			Node:   r.cfg.NodeName,
			Event:  "lock_release_failed",
			Fields: map[string]interface{}{"error": releaseErr.Error()},
		})
		if errPtr != nil && *errPtr == nil {
			*errPtr = fmt.Errorf("release lock: %w", releaseErr)
		}
	}
}

func (r *Runner) sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	done := make(chan struct{})
	go func() {
		r.sleep(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
}

func defaultDisabledCheck(path string) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
