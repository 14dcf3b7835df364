package procexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// SidecarAdapter attaches to a named peer container instead of spawning a
// new process: lifetime observation and command execution operate on the
// peer via the container runtime's API rather than via OS process
// signaling.
type SidecarAdapter struct {
	cli         *client.Client
	containerID string
}

// NewSidecarAdapter connects to the local container runtime (respecting
// DOCKER_HOST/DOCKER_CERT_PATH via client.FromEnv) and binds to an
// already-running peer container by name or ID.
func NewSidecarAdapter(ctx context.Context, containerNameOrID string) (*SidecarAdapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("procexec: creating container runtime client: %w", err)
	}
	if _, err := cli.ContainerInspect(ctx, containerNameOrID); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("procexec: inspecting sidecar peer %q: %w", containerNameOrID, err)
	}
	return &SidecarAdapter{cli: cli, containerID: containerNameOrID}, nil
}

func (s *SidecarAdapter) Close() error { return s.cli.Close() }

// WaitUntil polls the peer container's status against predicate until it
// matches or deadline passes. Peer lifetime is observed through the
// container runtime's inspect endpoint rather than a wait() syscall.
func (s *SidecarAdapter) WaitUntil(ctx context.Context, deadline time.Time, predicate func(status string) bool) (string, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		inspect, err := s.cli.ContainerInspect(ctx, s.containerID)
		if err != nil {
			return "", fmt.Errorf("procexec: inspecting sidecar peer: %w", err)
		}
		status := inspect.State.Status
		if predicate(status) {
			return status, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return status, fmt.Errorf("procexec: sidecar wait_until deadline exceeded")
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Exec runs cmd inside the peer container, mirroring signal/terminate
// semantics via container exec rather than OS signals.
func (s *SidecarAdapter) Exec(ctx context.Context, cmd []string) (exitCode int, output string, err error) {
	execID, err := s.cli.ContainerExecCreate(ctx, s.containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return -1, "", fmt.Errorf("procexec: creating sidecar exec: %w", err)
	}

	resp, err := s.cli.ContainerExecAttach(ctx, execID.ID, container.ExecStartOptions{})
	if err != nil {
		return -1, "", fmt.Errorf("procexec: attaching sidecar exec: %w", err)
	}
	defer resp.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Reader); err != nil {
		return -1, "", fmt.Errorf("procexec: reading sidecar exec output: %w", err)
	}

	inspectResp, err := s.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return -1, buf.String(), fmt.Errorf("procexec: inspecting sidecar exec: %w", err)
	}
	return inspectResp.ExitCode, buf.String(), nil
}

// Logs retrieves the peer container's combined stdout/stderr tail.
func (s *SidecarAdapter) Logs(ctx context.Context, tailLines int) (string, error) {
	reader, err := s.cli.ContainerLogs(ctx, s.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tailLines),
	})
	if err != nil {
		return "", fmt.Errorf("procexec: reading sidecar logs: %w", err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", fmt.Errorf("procexec: copying sidecar logs: %w", err)
	}
	return buf.String(), nil
}
