package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// Writer serializes outbound envelopes onto one carrier WebSocket.
// All methods are safe for concurrent use; the first write failure
// poisons the writer and every later call returns the same error.
type Writer struct {
	streamSID string
	conn      *websocket.Conn

	mu     sync.Mutex
	closed bool
	err    error
}

// NewWriter wraps conn for the given stream.
func NewWriter(streamSID string, conn *websocket.Conn) *Writer {
	return &Writer{streamSID: streamSID, conn: conn}
}

// StreamSID returns the stream identity this writer serves.
func (w *Writer) StreamSID() string { return w.streamSID }

// WriteMedia sends one µ-law frame to the carrier.
func (w *Writer) WriteMedia(ctx context.Context, frame []byte) error {
	return w.write(ctx, outboundMedia{
		Event:     EventMedia,
		StreamSID: w.streamSID,
		Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
}

// WriteMark sends a playback checkpoint.
func (w *Writer) WriteMark(ctx context.Context, name string) error {
	return w.write(ctx, outboundMark{
		Event:     "mark",
		StreamSID: w.streamSID,
		Mark:      markPayload{Name: name},
	})
}

// WriteClear tells the carrier to drop its buffered playback audio.
func (w *Writer) WriteClear(ctx context.Context) error {
	return w.write(ctx, outboundClear{
		Event:     "clear",
		StreamSID: w.streamSID,
	})
}

func (w *Writer) write(ctx context.Context, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		if w.err != nil {
			return w.err
		}
		return errors.New("telephony: writer is closed")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("telephony: marshal envelope: %w", err)
	}
	if err := w.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		w.closed = true
		w.err = fmt.Errorf("telephony: write: %w", err)
		return w.err
	}
	return nil
}

// Err reports the write failure that poisoned the writer, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close marks the writer closed. The connection itself is owned by the
// server read loop and is not closed here.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}
