// Package connection owns the streaming channel of a search session. It
// opens one channel per search invocation, tags every inbound frame with
// the generation the channel was opened for and drops frames of
// superseded generations. Dropping stale frames is the cancellation
// mechanism: a transport cannot always be aborted mid-flight.
package connection

import (
	"context"
	"errors"
	"sync"

	"sales-intel-be/internal/pkg/logger"
	"sales-intel-be/pkg/agentic"
)

const module = "ConnectionManager"

// Stream is one open bidirectional channel.
type Stream interface {
	Send(ctx context.Context, v any) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens streams.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// Handler receives the frames and failures of the current generation.
type Handler interface {
	HandleFrame(frame agentic.Frame)
	HandleFailure(generation uint64, err *agentic.SessionError)
}

// ErrClosed is returned by streams used after Close.
var ErrClosed = errors.New("stream closed")

type Manager struct {
	dialer Dialer
	logger logger.ILogger

	mu      sync.Mutex
	current uint64
	stream  Stream
	cancel  context.CancelFunc
}

func NewManager(dialer Dialer, log logger.ILogger) *Manager {
	return &Manager{dialer: dialer, logger: log}
}

// Open closes any channel still open, then dials a new one tagged with
// generation and writes req as the first message. Dialing and reading
// happen on a separate goroutine; Open never blocks on the network.
func (m *Manager) Open(ctx context.Context, req agentic.SearchRequest, generation uint64, h Handler) {
	m.Close()

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.current = generation
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(runCtx, req, generation, h)
}

// Close tears down the open channel, if any. Frames still in flight on it
// become stale and are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	stream, cancel, gen := m.stream, m.cancel, m.current
	m.stream, m.cancel, m.current = nil, nil, 0
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			m.logger.Debug(module, "Close returned error", map[string]interface{}{"generation": gen, "error": err.Error()})
		}
	}
}

// Current returns the generation of the open channel, 0 when closed.
func (m *Manager) Current() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) isCurrent(generation uint64) bool {
	return m.Current() == generation
}

// release closes the stream of generation once it has delivered a terminal
// frame or failed, unless a newer channel replaced it already.
func (m *Manager) release(generation uint64) {
	m.mu.Lock()
	if m.current != generation {
		m.mu.Unlock()
		return
	}
	stream, cancel := m.stream, m.cancel
	m.stream, m.cancel = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		_ = stream.Close()
	}
}

func (m *Manager) run(ctx context.Context, req agentic.SearchRequest, generation uint64, h Handler) {
	details := map[string]interface{}{"generation": generation, "request_id": req.RequestID}

	stream, err := m.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil || !m.isCurrent(generation) {
			return
		}
		m.logger.Warn(module, "Failed to open search channel", merge(details, "error", err.Error()))
		h.HandleFailure(generation, agentic.NewSessionError(agentic.KindConnection, "Connection error. Please try again.", err))
		m.release(generation)
		return
	}

	m.mu.Lock()
	if m.current != generation {
		m.mu.Unlock()
		_ = stream.Close()
		return
	}
	m.stream = stream
	m.mu.Unlock()

	if err := stream.Send(ctx, req); err != nil {
		if ctx.Err() != nil || !m.isCurrent(generation) {
			return
		}
		m.logger.Warn(module, "Failed to send search request", merge(details, "error", err.Error()))
		h.HandleFailure(generation, agentic.NewSessionError(agentic.KindConnection, "Connection error. Please try again.", err))
		m.release(generation)
		return
	}
	m.logger.Debug(module, "Search channel open", details)

	for {
		data, err := stream.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || !m.isCurrent(generation) {
				return
			}
			m.logger.Info(module, "Search channel closed", merge(details, "error", err.Error()))
			h.HandleFailure(generation, agentic.NewSessionError(agentic.KindConnection, "Connection closed before the search completed.", err))
			m.release(generation)
			return
		}

		if !m.isCurrent(generation) {
			m.logger.Debug(module, "Dropped stale frame", details)
			return
		}

		frame, err := agentic.DecodeFrame(data)
		if err != nil {
			var se *agentic.SessionError
			if !errors.As(err, &se) {
				se = agentic.NewSessionError(agentic.KindProtocol, "malformed frame", err)
			}
			m.logger.Warn(module, "Rejected frame", merge(details, "error", se.Error()))
			h.HandleFailure(generation, se)
			m.release(generation)
			return
		}

		frame.Generation = generation
		h.HandleFrame(frame)

		if frame.Type.IsTerminal() {
			m.release(generation)
			return
		}
	}
}

func merge(details map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out[key] = value
	return out
}
