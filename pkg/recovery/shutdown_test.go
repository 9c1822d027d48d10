package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/runtime"
)

func TestSequencerStopsConsensusFirst(t *testing.T) {
	probe := newScriptedProbe()
	seq, err := NewSequencer(testConfig(), probe, nil)
	if err != nil {
		t.Fatalf("new sequencer: %v", err)
	}

	res := seq.Run(context.Background())

	want := []string{"stop beacon", "stop execution"}
	if fmt.Sprint(probe.actions) != fmt.Sprint(want) {
		t.Fatalf("expected actions %v, got %v", want, probe.actions)
	}
	if !res.Clean() {
		t.Fatalf("expected clean shutdown, got %+v", res)
	}
}

func TestSequencerStopFailureWithoutForce(t *testing.T) {
	probe := newScriptedProbe()
	probe.stopErr["beacon"] = errors.New("timeout exceeded")
	seq, err := NewSequencer(testConfig(), probe, nil)
	if err != nil {
		t.Fatalf("new sequencer: %v", err)
	}

	res := seq.Run(context.Background())

	if res.Clean() {
		t.Fatal("expected unclean shutdown when a stop fails")
	}
	if res.Steps[0].Err == nil || res.Steps[0].Killed {
		t.Fatalf("expected consensus stop error without escalation, got %+v", res.Steps[0])
	}
	// The execution service is still stopped independently.
	if res.Steps[1].Err != nil {
		t.Fatalf("expected execution stop to proceed, got %+v", res.Steps[1])
	}
	if res.ExecutionRunning || !res.ConsensusRunning {
		t.Fatalf("unexpected final states: %+v", res)
	}
}

func TestSequencerForceEscalatesToKill(t *testing.T) {
	probe := newScriptedProbe()
	probe.stopErr["beacon"] = errors.New("timeout exceeded")
	seq, err := NewSequencer(testConfig(), probe, nil)
	if err != nil {
		t.Fatalf("new sequencer: %v", err)
	}
	seq.Force = true

	res := seq.Run(context.Background())

	want := []string{"stop beacon", "kill beacon", "stop execution"}
	if fmt.Sprint(probe.actions) != fmt.Sprint(want) {
		t.Fatalf("expected actions %v, got %v", want, probe.actions)
	}
	if !res.Steps[0].Killed || res.Steps[0].Err != nil {
		t.Fatalf("expected successful kill escalation, got %+v", res.Steps[0])
	}
	if !res.Clean() {
		t.Fatalf("expected clean forced shutdown, got %+v", res)
	}
}

func TestSequencerMissingContainerCountsAsStopped(t *testing.T) {
	probe := newScriptedProbe()
	probe.stopErr["beacon"] = runtime.ErrContainerNotFound
	probe.states["beacon"] = runtime.State{}
	seq, err := NewSequencer(testConfig(), probe, nil)
	if err != nil {
		t.Fatalf("new sequencer: %v", err)
	}

	res := seq.Run(context.Background())
	if res.Steps[0].Err != nil || res.Steps[0].Killed {
		t.Fatalf("expected missing container to count as stopped, got %+v", res.Steps[0])
	}
	if !res.Clean() {
		t.Fatalf("expected clean shutdown, got %+v", res)
	}
}

func TestSequencerInterruptStillReportsState(t *testing.T) {
	probe := newScriptedProbe()
	ctx, cancel := context.WithCancel(context.Background())

	// Cancel during the first stop so the execution stop is skipped.
	cancellingProbe := &cancelOnStopProbe{scriptedProbe: probe, cancel: cancel}
	seq, err := NewSequencer(testConfig(), cancellingProbe, nil)
	if err != nil {
		t.Fatalf("new sequencer: %v", err)
	}

	res := seq.Run(ctx)

	if len(res.Steps) != 2 {
		t.Fatalf("expected both steps reported, got %d", len(res.Steps))
	}
	if res.Steps[1].Err == nil {
		t.Fatalf("expected skipped execution stop to carry an error, got %+v", res.Steps[1])
	}
	if res.StateErr != nil {
		t.Fatalf("expected final state read despite interrupt, got %v", res.StateErr)
	}
	if !res.ExecutionRunning {
		t.Fatal("expected execution still running after interrupted shutdown")
	}
}

type cancelOnStopProbe struct {
	*scriptedProbe
	cancel context.CancelFunc
}

func (p *cancelOnStopProbe) Stop(ctx context.Context, name string, timeout time.Duration) error {
	err := p.scriptedProbe.Stop(ctx, name, timeout)
	p.cancel()
	return err
}
