package logs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/ritikkashyap720/Server-monitor/internal/docker"
	"github.com/ritikkashyap720/Server-monitor/internal/ws"
)

// DefaultTail is the bounded backlog requested before following new output.
const DefaultTail = 200

const readBufferSize = 32 * 1024

// Streamer forwards one container's live log output to exactly one viewer
// connection. Each Run call owns its own decoder carry; nothing is shared
// across connections.
type Streamer struct {
	runtime docker.Runtime
	logger  *slog.Logger
	tail    int
}

// NewStreamer constructs a Streamer requesting tail lines of backlog.
func NewStreamer(runtime docker.Runtime, logger *slog.Logger, tail int) *Streamer {
	if tail <= 0 {
		tail = DefaultTail
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "log_streamer")
	return &Streamer{runtime: runtime, logger: logger, tail: tail}
}

// Run opens a following log stream for containerID and forwards decoded text
// to sink until the viewer disconnects, the stream errors, or the container
// stops. The underlying follow handle is always released before Run returns;
// canceling ctx unblocks a pending read.
//
// On stream end the viewer connection is left open with no further data. On
// stream error a single structured error frame is sent; the viewer is
// expected to reconnect.
func (s *Streamer) Run(ctx context.Context, containerID string, sink ws.Subscriber) error {
	stream, err := s.runtime.OpenLogStream(ctx, containerID, docker.LogOptions{
		Follow:     true,
		Tail:       s.tail,
		Timestamps: true,
		Stdout:     true,
		Stderr:     true,
	})
	if err != nil {
		s.logger.Warn("failed to open log stream", "container", containerID, "error", err)
		s.sendError(sink, err)
		return err
	}
	defer stream.Close()

	dec := NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if text := dec.Decode(buf[:n]); text != "" {
				if sendErr := sink.Send([]byte(text)); sendErr != nil {
					return sendErr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("log stream ended", "container", containerID)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("log stream read failed", "container", containerID, "error", err)
			s.sendError(sink, err)
			return err
		}
	}
}

func (s *Streamer) sendError(sink ws.Subscriber, cause error) {
	msg := "log stream failed"
	if cause != nil {
		msg = cause.Error()
	}
	payload, err := json.Marshal(map[string]string{
		"type":    "error",
		"message": msg,
	})
	if err != nil {
		return
	}
	_ = sink.Send(payload)
}
