package procexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasShellMeta(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"echo hello", false},
		{"echo hello | wc -l", true},
		{"echo $HOME", true},
		{"cmd && other", true},
		{"cmd || other", true},
		{"ls *.go", true},
		{"/usr/bin/true", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, hasShellMeta(tt.in))
		})
	}
}

func TestBuildArgvShellDisable(t *testing.T) {
	argv, err := buildArgv(Options{Command: []string{"echo", "hi"}, ShellMode: ShellDisable})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hi"}, argv)
}

func TestBuildArgvShellEnable(t *testing.T) {
	argv, err := buildArgv(Options{Command: []string{"echo", "hi"}, ShellMode: ShellEnable})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi"}, argv)
}

func TestBuildArgvAutoWrapsWhenMetacharsPresent(t *testing.T) {
	argv, err := buildArgv(Options{Command: []string{"echo hi | cat"}, ShellMode: ShellAuto})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi | cat"}, argv)
}

func TestBuildArgvAutoLeavesPlainCommand(t *testing.T) {
	argv, err := buildArgv(Options{Command: []string{"echo", "hi"}, ShellMode: ShellAuto})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hi"}, argv)
}

func TestBuildArgvEmptyCommandIsError(t *testing.T) {
	_, err := buildArgv(Options{Command: nil})
	assert.Error(t, err)
}

func TestBuildArgvUnknownShellModeIsError(t *testing.T) {
	_, err := buildArgv(Options{Command: []string{"echo"}, ShellMode: "bogus"})
	assert.Error(t, err)
}

func TestStripShellWrapperRemovesKnownShells(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"sh", []string{"/bin/sh", "-c", "echo", "hi"}, []string{"echo", "hi"}},
		{"bash-basename-only", []string{"bash", "-c", "echo hi"}, []string{"echo hi"}},
		{"not-shell", []string{"echo", "-c", "hi"}, []string{"echo", "-c", "hi"}},
		{"too-short", []string{"sh"}, []string{"sh"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripShellWrapper(tt.in))
		})
	}
}

func TestSpawnWaitExitCode(t *testing.T) {
	h, err := Spawn(context.Background(), Options{Command: []string{"/bin/sh", "-c", "exit 3"}})
	require.NoError(t, err)

	result, err := h.Wait(time.Time{})
	require.NoError(t, err)
	assert.False(t, result.TimedOut)
	assert.Equal(t, 3, result.ExitCode)
}

func TestSpawnTerminateGracefulExit(t *testing.T) {
	h, err := Spawn(context.Background(), Options{
		Command:      []string{"/bin/sh", "-c", "trap 'exit 0' TERM; sleep 30"},
		GroupSignals: true,
	})
	require.NoError(t, err)

	result, err := h.Terminate(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.False(t, result.TimedOut)
}

func TestSpawnTerminateForceKillAfterGrace(t *testing.T) {
	h, err := Spawn(context.Background(), Options{
		Command:      []string{"/bin/sh", "-c", "trap '' TERM; sleep 30"},
		GroupSignals: true,
	})
	require.NoError(t, err)

	result, err := h.Terminate(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, result.TimedOut)
	assert.NotEqual(t, 0, result.ExitCode)
}

func TestWaitTimesOutBeforeDeadline(t *testing.T) {
	h, err := Spawn(context.Background(), Options{Command: []string{"/bin/sh", "-c", "sleep 30"}})
	require.NoError(t, err)
	defer h.ForceKill()

	result, err := h.Wait(time.Now().Add(100 * time.Millisecond))
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
}
