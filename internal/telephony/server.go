package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// maxEnvelopeBytes bounds a single carrier envelope. A 160-byte frame
// base64-encodes to ~216 bytes; the limit leaves generous headroom for
// metadata without letting a misbehaving peer balloon memory.
const maxEnvelopeBytes = 64 * 1024

// Handler receives the lifecycle of one carrier stream. HandleStart is
// called exactly once before any media; after an accepted start,
// HandleClose is called exactly once when the socket is gone, whether or
// not a stop event preceded it. A stream whose start never arrives or is
// rejected gets no HandleClose.
type Handler interface {
	// HandleStart begins a session for the stream. The writer stays valid
	// until HandleClose returns. A non-nil error aborts the call.
	HandleStart(ctx context.Context, w *Writer, start *StartEvent) error

	// HandleMedia delivers one decoded µ-law frame.
	HandleMedia(streamSID string, frame []byte)

	// HandleStop signals the carrier ended the stream.
	HandleStop(streamSID string)

	// HandleClose signals the socket closed. Always the final call.
	HandleClose(streamSID string)
}

// Server accepts carrier WebSocket connections, one per call, and feeds
// parsed events to a Handler.
type Server struct {
	handler Handler
	logger  *slog.Logger
}

// NewServer creates a Server dispatching to handler. A nil logger falls
// back to slog.Default.
func NewServer(handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{handler: handler, logger: logger}
}

// ServeHTTP upgrades the request to a WebSocket and runs the stream's
// read loop until the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("telephony: websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxEnvelopeBytes)

	s.serveConn(r.Context(), conn)
}

// serveConn reads envelopes until the socket drops. The first envelope
// must be start; anything before it is dropped.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "call ended")

	start, writer, err := s.awaitStart(ctx, conn)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("telephony: stream never started", "error", err)
		}
		return
	}

	log := s.logger.With("stream_sid", start.StreamSID)
	log.Info("telephony: stream started",
		"encoding", start.MediaFormat.Encoding,
		"sample_rate", start.MediaFormat.SampleRate)

	if err := s.handler.HandleStart(ctx, writer, start); err != nil {
		log.Error("telephony: session start rejected", "error", err)
		conn.Close(websocket.StatusInternalError, "session start failed")
		return
	}
	defer s.handler.HandleClose(start.StreamSID)

	s.readLoop(ctx, conn, log, start.StreamSID)
}

// awaitStart reads until the start envelope arrives and returns it with
// a writer bound to the stream.
func (s *Server) awaitStart(ctx context.Context, conn *websocket.Conn) (*StartEvent, *Writer, error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("telephony: read: %w", err)
		}

		ev, err := ParseInbound(data)
		if err != nil {
			s.logger.Warn("telephony: dropping malformed envelope", "error", err)
			continue
		}
		switch ev.Event {
		case EventStart:
			return ev.Start, NewWriter(ev.Start.StreamSID, conn), nil
		default:
			s.logger.Warn("telephony: envelope before start dropped", "event", ev.Event)
		}
	}
}

// readLoop dispatches post-start envelopes until the socket closes.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, log *slog.Logger, streamSID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				log.Info("telephony: stream closed by carrier")
			} else if !errors.Is(err, context.Canceled) {
				log.Warn("telephony: stream read failed", "error", err)
			}
			return
		}

		ev, err := ParseInbound(data)
		if err != nil {
			log.Warn("telephony: dropping malformed envelope", "error", err)
			continue
		}

		switch ev.Event {
		case EventMedia:
			frame, err := ev.Media.DecodePayload()
			if err != nil {
				log.Warn("telephony: dropping undecodable frame", "error", err)
				continue
			}
			s.handler.HandleMedia(streamSID, frame)
		case EventStop:
			log.Info("telephony: stop received")
			s.handler.HandleStop(streamSID)
		case EventStart:
			log.Warn("telephony: duplicate start ignored")
		default:
			log.Warn("telephony: unknown event ignored", "event", ev.Event)
		}
	}
}
