// Package statuslistener implements the Status Listener: a UDP side
// channel that receives JSON status datagrams from the child process and
// merges them into an in-memory status snapshot.
package statuslistener

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/taskrelay/tasksupervisor/pkg/task"
)

// Options configures the listener.
type Options struct {
	// Addr is the UDP address to bind, e.g. "127.0.0.1:0" (port 0 picks an
	// ephemeral port, exposed afterward via Listener.Addr).
	Addr string
	// MaxMessageBytes bounds a single datagram (status_update_message_max_bytes).
	MaxMessageBytes int
	Logger          *zap.Logger
}

// payload mirrors the wire shape the child process sends: counters,
// last status message, a free-form extra_props escape hatch, and a
// other_runtime_metadata map merged into the execution's runtime metadata.
type payload struct {
	SuccessCount       *int64         `json:"success_count"`
	ErrorCount         *int64         `json:"error_count"`
	SkippedCount       *int64         `json:"skipped_count"`
	ExpectedCount      *int64         `json:"expected_count"`
	LastStatusMessage  *string        `json:"last_status_message"`
	ExtraProps         map[string]any `json:"extra_props"`
	OtherRuntimeMetadata map[string]any `json:"other_runtime_metadata"`
}

// Snapshot is the in-memory status accumulated from received datagrams.
type Snapshot struct {
	Counters             task.Counters
	LastStatusMessage     string
	ExtraProps            map[string]any
	OtherRuntimeMetadata  map[string]any
}

// Listener binds a UDP socket and merges incoming datagrams into a
// Snapshot. At most one listener runs per supervisor invocation.
type Listener struct {
	conn            *net.UDPConn
	maxMessageBytes int
	log             *zap.Logger

	mu            sync.Mutex
	snapshot      Snapshot
	droppedCount  int

	wg sync.WaitGroup
}

// Start binds the socket and begins the receive loop in a background
// goroutine. The listener lifecycle is bound to the current child:
// callers start it before spawn and Stop it after reap.
func Start(opts Options) (*Listener, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxBytes := opts.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = 65507
	}

	udpAddr, err := net.ResolveUDPAddr("udp", opts.Addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	l := &Listener{conn: conn, maxMessageBytes: maxBytes, log: log}
	l.snapshot.ExtraProps = map[string]any{}
	l.snapshot.OtherRuntimeMetadata = map[string]any{}

	l.wg.Add(1)
	go l.receiveLoop()
	return l, nil
}

// Addr returns the bound local address, useful when Options.Addr asked
// for an ephemeral port.
func (l *Listener) Addr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

func (l *Listener) receiveLoop() {
	defer l.wg.Done()
	buf := make([]byte, l.maxMessageBytes)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return // connection closed by Stop
		}
		l.handleDatagram(buf[:n])
	}
}

// handleDatagram parses and merges one datagram. A malformed datagram
// increments droppedCount and is otherwise ignored.
func (l *Listener) handleDatagram(data []byte) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		l.mu.Lock()
		l.droppedCount++
		l.mu.Unlock()
		l.log.Debug("statuslistener: dropping malformed datagram", zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if p.SuccessCount != nil {
		l.snapshot.Counters.SuccessCount = maxInt64(l.snapshot.Counters.SuccessCount, *p.SuccessCount)
	}
	if p.ErrorCount != nil {
		l.snapshot.Counters.ErrorCount = maxInt64(l.snapshot.Counters.ErrorCount, *p.ErrorCount)
	}
	if p.SkippedCount != nil {
		l.snapshot.Counters.SkippedCount = maxInt64(l.snapshot.Counters.SkippedCount, *p.SkippedCount)
	}
	if p.ExpectedCount != nil {
		l.snapshot.Counters.ExpectedCount = maxInt64(l.snapshot.Counters.ExpectedCount, *p.ExpectedCount)
	}
	if p.LastStatusMessage != nil {
		l.snapshot.LastStatusMessage = *p.LastStatusMessage
	}
	for k, v := range p.ExtraProps {
		l.snapshot.ExtraProps[k] = v
	}
	for k, v := range p.OtherRuntimeMetadata {
		l.snapshot.OtherRuntimeMetadata[k] = v
	}
}

// Snapshot returns a copy of the current merged status, safe to read
// concurrently with the receive loop — the map is mutated by the
// listener goroutine and read by the heartbeat loop, so both sides go
// through the mutex.
func (l *Listener) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.snapshot
	out.ExtraProps = copyMap(l.snapshot.ExtraProps)
	out.OtherRuntimeMetadata = copyMap(l.snapshot.OtherRuntimeMetadata)
	return out
}

// DroppedCount returns the number of malformed/dropped datagrams so far.
func (l *Listener) DroppedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.droppedCount
}

// Stop closes the socket and waits for the receive loop to exit.
func (l *Listener) Stop(_ context.Context) error {
	err := l.conn.Close()
	l.wg.Wait()
	return err
}

func maxInt64(a, b int64) int64 {
	if b > a {
		return b
	}
	return a
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
