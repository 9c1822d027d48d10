package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerProbe implements Probe against the Docker Engine API.
type DockerProbe struct {
	cli *client.Client
}

// NewDockerProbe connects to the engine using the standard environment
// configuration (DOCKER_HOST et al.) with API version negotiation.
func NewDockerProbe() (*DockerProbe, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return &DockerProbe{cli: cli}, nil
}

// Close releases the underlying engine connection.
func (p *DockerProbe) Close() error {
	if p == nil || p.cli == nil {
		return nil
	}
	return p.cli.Close()
}

func (p *DockerProbe) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case client.IsErrNotFound(err):
		return fmt.Errorf("%s: %w", op, ErrContainerNotFound)
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%s: %w: %v", op, ErrRuntimeUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// State implements Probe.
func (p *DockerProbe) State(ctx context.Context, name string) (State, error) {
	inspect, err := p.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return State{}, nil
		}
		return State{}, p.wrap("inspect "+name, err)
	}

	state := State{Exists: true}
	if inspect.State != nil {
		state.Running = inspect.State.Running
	}
	if created, err := time.Parse(time.RFC3339Nano, inspect.Created); err == nil {
		state.CreatedAt = created
	}
	return state, nil
}

// ResolveDataMount implements Probe.
func (p *DockerProbe) ResolveDataMount(ctx context.Context, name string, destinations []string) (string, error) {
	inspect, err := p.cli.ContainerInspect(ctx, name)
	if err != nil {
		return "", p.wrap("inspect "+name, err)
	}

	for _, destination := range destinations {
		for _, mount := range inspect.Mounts {
			if mount.Destination == destination && strings.TrimSpace(mount.Source) != "" {
				return mount.Source, nil
			}
		}
	}
	return "", fmt.Errorf("resolve data mount for %s: no mount matches %v", name, destinations)
}

// Start implements Probe.
func (p *DockerProbe) Start(ctx context.Context, name string) error {
	return p.wrap("start "+name, p.cli.ContainerStart(ctx, name, types.ContainerStartOptions{}))
}

// Stop implements Probe. The timeout is enforced engine-side; the request
// context is additionally bounded so a wedged engine cannot block forever.
func (p *DockerProbe) Stop(ctx context.Context, name string, timeout time.Duration) error {
	seconds := int(timeout / time.Second)
	if seconds <= 0 {
		seconds = 1
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout+30*time.Second)
	defer cancel()

	return p.wrap("stop "+name, p.cli.ContainerStop(stopCtx, name, container.StopOptions{Timeout: &seconds}))
}

// Kill implements Probe.
func (p *DockerProbe) Kill(ctx context.Context, name string) error {
	return p.wrap("kill "+name, p.cli.ContainerKill(ctx, name, "KILL"))
}

// TailLogs implements Probe.
func (p *DockerProbe) TailLogs(ctx context.Context, name string, lines int) ([]string, error) {
	if lines <= 0 {
		lines = 100
	}
	reader, err := p.cli.ContainerLogs(ctx, name, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines),
	})
	if err != nil {
		return nil, p.wrap("logs "+name, err)
	}
	defer reader.Close()

	// Engine log streams are multiplexed; demux into a single buffer.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return nil, fmt.Errorf("logs %s: demultiplex stream: %w", name, err)
	}

	var collected []string
	scanner := bufio.NewScanner(&buf)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			collected = append(collected, line)
		}
	}
	return collected, nil
}

// MemoryUsage implements Probe.
func (p *DockerProbe) MemoryUsage(ctx context.Context, name string) (uint64, error) {
	stats, err := p.cli.ContainerStatsOneShot(ctx, name)
	if err != nil {
		return 0, p.wrap("stats "+name, err)
	}
	defer stats.Body.Close()

	var payload types.StatsJSON
	if err := json.NewDecoder(stats.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("stats %s: decode payload: %w", name, err)
	}
	return payload.MemoryStats.Usage, nil
}

var _ Probe = (*DockerProbe)(nil)
