package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/chainclient"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/config"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/cooldown"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/health"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/lock"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/observability"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/recovery"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/runtime"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/version"
)

const (
	exitOK          = 0
	exitWarning     = 1
	exitCritical    = 2
	exitUsage       = 64
	exitConfigError = 65
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage(os.Stderr)
		return exitUsage
	}

	switch args[0] {
	case "status":
		return commandStatus(args[1:], os.Stdout, os.Stderr)
	case "recover":
		return commandRecover(args[1:], os.Stdout, os.Stderr)
	case "watch":
		return commandWatch(args[1:], os.Stdout, os.Stderr)
	case "shutdown":
		return commandShutdown(args[1:], os.Stdout, os.Stderr)
	case "simulate":
		return commandSimulate(args[1:], os.Stdout, os.Stderr)
	case "validate-config":
		return commandValidate(args[1:], os.Stdout, os.Stderr)
	case "version":
		fmt.Println(version.Version)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage(os.Stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: node-watchdog <command> [options]
Commands:
  status             Probe containers and services and print a health report
  recover            Run one recovery pass and exit with its outcome code
  watch              Run recovery passes continuously until a fatal outcome
  shutdown           Stop consensus then execution gracefully
  simulate           Print the recovery decision without acting
  validate-config    Validate the configuration file
  version            Print build version

Recovery exit codes: 0 no action needed, 10 recovered sync, 11 recovered
peers, 12 started stopped containers, 20 engine unreachable, 21 container
missing, 22 action failed, 23 disk critically full.
`)
}

func loadConfig(configPath string, stderr io.Writer) (*config.Config, int) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return nil, exitConfigError
	}
	return cfg, exitOK
}

// deps bundles everything a command needs beyond the configuration.
type deps struct {
	cfg       *config.Config
	probe     *runtime.DockerProbe
	collector *health.Collector
	reporter  recovery.Reporter
	metrics   *observability.PrometheusCollector
}

func buildDeps(cfg *config.Config, stderr io.Writer) (*deps, error) {
	probe, err := runtime.NewDockerProbe()
	if err != nil {
		return nil, fmt.Errorf("connect to container engine: %w", err)
	}

	collector := health.NewCollector(probe,
		health.ExecutionService{
			Container: cfg.Execution.Container,
			API:       chainclient.NewExecutionClient(cfg.Execution.Endpoint, cfg.RPCTimeout()),
		},
		health.ConsensusService{
			Container: cfg.Consensus.Container,
			API:       chainclient.NewConsensusClient(cfg.Consensus.Endpoint, cfg.RPCTimeout()),
		},
		cfg.DataMountDestinations,
	)

	metrics := observability.NewPrometheusCollector()
	logger := observability.NewJSONLogger(stderr)
	reporter := recovery.NewStructuredReporter(cfg.NodeName, logger, metrics)

	return &deps{
		cfg:       cfg,
		probe:     probe,
		collector: collector,
		reporter:  reporter,
		metrics:   metrics,
	}, nil
}

func (d *deps) Close() {
	if d.probe != nil {
		d.probe.Close()
	}
}

func (d *deps) newRunner() (*recovery.Runner, error) {
	locker, err := lock.NewFileManager(d.cfg.LockFile, d.cfg.LockTTL())
	if err != nil {
		return nil, fmt.Errorf("initialise lock: %w", err)
	}

	opts := []recovery.Option{recovery.WithReporter(d.reporter)}
	if d.cfg.MinRestartInterval() > 0 {
		cd, err := cooldown.NewFileManager(d.cfg.CooldownFile, d.cfg.NodeName)
		if err != nil {
			return nil, fmt.Errorf("initialise cooldown: %w", err)
		}
		opts = append(opts, recovery.WithCooldownManager(cd))
	}

	return recovery.NewRunner(d.cfg, d.collector, d.probe, locker, opts...)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func commandStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, code := loadConfig(*configPath, stderr)
	if cfg == nil {
		return code
	}
	d, err := buildDeps(cfg, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCritical
	}
	defer d.Close()

	ctx, cancel := signalContext()
	defer cancel()

	snap := d.collector.Collect(ctx)
	report := health.Evaluate(snap, recovery.ThresholdsFromConfig(cfg))
	fmt.Fprint(stdout, health.Render(cfg.NodeName, snap, report))

	switch report.Worst() {
	case health.SeverityOK:
		return exitOK
	case health.SeverityWarning:
		return exitWarning
	default:
		return exitCritical
	}
}

func commandRecover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	dryRun := fs.Bool("dry-run", false, "decide but do not act")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, code := loadConfig(*configPath, stderr)
	if cfg == nil {
		return code
	}
	if *dryRun {
		cfg.DryRun = true
	}

	d, err := buildDeps(cfg, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return recovery.ExitActionFailed
	}
	defer d.Close()

	runner, err := d.newRunner()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return recovery.ExitActionFailed
	}

	ctx, cancel := signalContext()
	defer cancel()

	out, err := runner.RunOnce(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "recovery pass failed: %v\n", err)
		return recovery.ExitActionFailed
	}

	printOutcome(stdout, out)
	return out.Status.ExitCode()
}

func commandWatch(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	dryRun := fs.Bool("dry-run", false, "decide but do not act")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, code := loadConfig(*configPath, stderr)
	if cfg == nil {
		return code
	}
	if *dryRun {
		cfg.DryRun = true
	}

	d, err := buildDeps(cfg, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return recovery.ExitActionFailed
	}
	defer d.Close()

	runner, err := d.newRunner()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return recovery.ExitActionFailed
	}

	loop, err := recovery.NewLoop(cfg, runner,
		recovery.WithLoopIterationHook(func(out recovery.Outcome) {
			printOutcome(stdout, out)
		}),
		recovery.WithLoopErrorHandler(func(loopErr error) {
			fmt.Fprintf(stderr, "recovery pass failed, retrying: %v\n", loopErr)
		}))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return recovery.ExitActionFailed
	}

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.Metrics.Enabled {
		startMetricsServer(ctx, cfg.Metrics.Listen, d.metrics, stderr)
	}

	out, err := loop.Run(ctx)
	if err != nil {
		// Cancellation by signal is a normal way to stop watching.
		fmt.Fprintf(stdout, "watch stopped: %v\n", err)
		return exitOK
	}
	printOutcome(stdout, out)
	return out.Status.ExitCode()
}

func commandShutdown(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("shutdown", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	force := fs.Bool("force", false, "kill a service whose graceful stop fails")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, code := loadConfig(*configPath, stderr)
	if cfg == nil {
		return code
	}

	d, err := buildDeps(cfg, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return recovery.ExitActionFailed
	}
	defer d.Close()

	seq, err := recovery.NewSequencer(cfg, d.probe, d.reporter)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return recovery.ExitActionFailed
	}
	seq.Force = *force

	ctx, cancel := signalContext()
	defer cancel()

	res := seq.Run(ctx)
	for _, step := range res.Steps {
		line := fmt.Sprintf("%s (%s): stopped", step.Role, step.Container)
		if step.Killed {
			line = fmt.Sprintf("%s (%s): killed after failed stop", step.Role, step.Container)
		}
		if step.Err != nil {
			line = fmt.Sprintf("%s (%s): %v", step.Role, step.Container, step.Err)
		}
		fmt.Fprintln(stdout, line)
	}
	if res.StateErr != nil {
		fmt.Fprintf(stderr, "could not confirm final state: %v\n", res.StateErr)
		return recovery.ExitActionFailed
	}
	fmt.Fprintf(stdout, "final state: execution running=%v, consensus running=%v\n", res.ExecutionRunning, res.ConsensusRunning)
	if !res.Clean() {
		return recovery.ExitActionFailed
	}
	return exitOK
}

func commandSimulate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, code := loadConfig(*configPath, stderr)
	if cfg == nil {
		return code
	}
	d, err := buildDeps(cfg, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCritical
	}
	defer d.Close()

	ctx, cancel := signalContext()
	defer cancel()

	th := recovery.ThresholdsFromConfig(cfg)
	snap := d.collector.Collect(ctx)
	report := health.Evaluate(snap, th)
	decision := recovery.Decide(snap, report, th)

	fmt.Fprint(stdout, health.Render(cfg.NodeName, snap, report))
	fmt.Fprintf(stdout, "decision: %s (%s)\n", decision.Action, decision.Reason)
	fmt.Fprintln(stdout, "no recovery actions performed in simulation mode")
	return exitOK
}

func commandValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate-config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitConfigError
	}

	fmt.Fprintf(stdout, "configuration at %s is valid\n", *configPath)
	return exitOK
}

func printOutcome(w io.Writer, out recovery.Outcome) {
	fmt.Fprintf(w, "%s: %s\n", out.Status, out.Message)
	for _, line := range out.LogTail {
		fmt.Fprintf(w, "  log: %s\n", line)
	}
}

func startMetricsServer(ctx context.Context, listen string, metrics *observability.PrometheusCollector, stderr io.Writer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: listen, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(stderr, "metrics server: %v\n", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
