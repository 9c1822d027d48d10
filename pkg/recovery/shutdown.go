package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/config"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/health"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/observability"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/runtime"
)

// StopStep records how one service fared during a shutdown sequence.
type StopStep struct {
	Role      health.Role
	Container string
	// Killed is set when the graceful stop failed and the sequencer escalated.
	Killed bool
	Err    error
}

// ShutdownResult reports the final state after a shutdown sequence.
type ShutdownResult struct {
	Steps []StopStep
	// ExecutionRunning and ConsensusRunning reflect the containers' states as
	// observed after the sequence, including an interrupted one.
	ExecutionRunning bool
	ConsensusRunning bool
	// StateErr is set when the final state could not be confirmed.
	StateErr error
}

// Clean reports whether both services ended up stopped.
func (res ShutdownResult) Clean() bool {
	return res.StateErr == nil && !res.ExecutionRunning && !res.ConsensusRunning
}

// Sequencer stops the node pair in dependency order: consensus first so it
// disconnects from its execution endpoint cleanly, then execution. Each
// service is handled independently; one failure does not abort the other.
type Sequencer struct {
	cfg      *config.Config
	probe    runtime.Probe
	reporter Reporter
	// Force escalates a failed graceful stop to a kill for that service only.
	Force bool
}

// NewSequencer builds a shutdown sequencer over the container probe.
func NewSequencer(cfg *config.Config, probe runtime.Probe, reporter Reporter) (*Sequencer, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if probe == nil {
		return nil, errors.New("container probe must not be nil")
	}
	if reporter == nil {
		reporter = NoopReporter{}
	}
	return &Sequencer{cfg: cfg, probe: probe, reporter: reporter}, nil
}

// Run executes the shutdown sequence. The final container states are read
// with a fresh context so an interrupt mid-sequence still yields an accurate
// report of what is left running.
func (s *Sequencer) Run(ctx context.Context) ShutdownResult {
	var res ShutdownResult

	res.Steps = append(res.Steps, s.stopService(ctx, health.RoleConsensus, s.cfg.Consensus.Container, s.cfg.StopConsensusTimeout()))
	if ctx.Err() == nil {
		res.Steps = append(res.Steps, s.stopService(ctx, health.RoleExecution, s.cfg.Execution.Container, s.cfg.StopExecutionTimeout()))
	} else {
		res.Steps = append(res.Steps, StopStep{
			Role:      health.RoleExecution,
			Container: s.cfg.Execution.Container,
			Err:       fmt.Errorf("skipped: %w", ctx.Err()),
		})
	}

	stateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res.ExecutionRunning, res.ConsensusRunning, res.StateErr = s.finalStates(stateCtx)
	return res
}

func (s *Sequencer) stopService(ctx context.Context, role health.Role, container string, timeout time.Duration) StopStep {
	step := StopStep{Role: role, Container: container}

	stopErr := s.probe.Stop(ctx, container, timeout)
	s.recordStop(ctx, "stop", container, stopErr)
	if stopErr == nil {
		return step
	}
	if errors.Is(stopErr, runtime.ErrContainerNotFound) {
		// Nothing to stop counts as stopped.
		return step
	}

	if !s.Force {
		step.Err = fmt.Errorf("stop %s: %w", container, stopErr)
		return step
	}

	killErr := s.probe.Kill(ctx, container)
	s.recordStop(ctx, "kill", container, killErr)
	step.Killed = true
	if killErr != nil && !errors.Is(killErr, runtime.ErrContainerNotFound) {
		step.Err = fmt.Errorf("kill %s after failed stop: %w", container, killErr)
	}
	return step
}

func (s *Sequencer) finalStates(ctx context.Context) (executionRunning, consensusRunning bool, err error) {
	execState, execErr := s.probe.State(ctx, s.cfg.Execution.Container)
	consState, consErr := s.probe.State(ctx, s.cfg.Consensus.Container)
	if execErr != nil {
		return false, false, fmt.Errorf("final state of %s: %w", s.cfg.Execution.Container, execErr)
	}
	if consErr != nil {
		return false, false, fmt.Errorf("final state of %s: %w", s.cfg.Consensus.Container, consErr)
	}
	return execState.Running, consState.Running, nil
}

func (s *Sequencer) recordStop(ctx context.Context, action, container string, actionErr error) {
	level := observability.LevelInfo
	fields := map[string]interface{}{
		"action":    action,
		"container": container,
	}
	if actionErr != nil {
		level = observability.LevelError
		fields["error"] = actionErr.Error()
	}

	result := "success"
	if actionErr != nil {
		result = "error"
	}
	s.reporter.RecordMetric(observability.Metric{
		Name:        "container_actions_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"action": action, "result": result},
		Description: "Number of container start and stop operations grouped by action and result.",
	})
	s.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Node:   s.cfg.NodeName,
		Event:  "shutdown_step",
		Fields: fields,
	})
}
