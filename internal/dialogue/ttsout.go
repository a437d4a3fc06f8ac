package dialogue

import (
	"github.com/voxloop/voxloop/pkg/audio"
)

// ttsOut slices provider audio into exact 20 ms telephony frames. It
// accumulates whatever chunk sizes the vendor delivers and hands back
// only complete 160-byte frames; the tail of a turn is padded with
// µ-law silence.
type ttsOut struct {
	buf        []byte
	framesSent int
}

// markEvery is the frame interval between playback checkpoints.
const markEvery = 10

// push appends one provider chunk and returns the complete frames now
// available.
func (o *ttsOut) push(chunk []byte) [][]byte {
	o.buf = append(o.buf, chunk...)

	var frames [][]byte
	for len(o.buf) >= audio.FrameBytes {
		frame := make([]byte, audio.FrameBytes)
		copy(frame, o.buf[:audio.FrameBytes])
		o.buf = o.buf[audio.FrameBytes:]
		frames = append(frames, frame)
	}
	return frames
}

// flushTail pads any remaining partial frame with µ-law silence and
// returns it. Returns nil when the buffer is empty.
func (o *ttsOut) flushTail() []byte {
	if len(o.buf) == 0 {
		return nil
	}
	frame := make([]byte, audio.FrameBytes)
	copy(frame, o.buf)
	for i := len(o.buf); i < audio.FrameBytes; i++ {
		frame[i] = audio.MulawSilence
	}
	o.buf = o.buf[:0]
	return frame
}

// countFrame advances the sent-frame counter and reports whether a mark
// checkpoint is due after this frame.
func (o *ttsOut) countFrame() (markDue bool) {
	o.framesSent++
	return o.framesSent%markEvery == 0
}

// reset drops buffered audio and the frame counter. Called on interrupt
// and between turns.
func (o *ttsOut) reset() {
	o.buf = o.buf[:0]
	o.framesSent = 0
}
