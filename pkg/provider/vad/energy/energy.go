// Package energy implements a dependency-free VAD engine based on frame
// energy and zero-crossing rate.
//
// The classifier computes the RMS energy and zero-crossing rate of each PCM16
// frame. A frame counts as voice when its energy clears the mode's threshold
// and its zero-crossing rate falls inside the band typical of speech; high-ZCR
// high-energy frames (codec hiss, DTMF edges) are rejected in the stricter
// modes. A short majority-vote window smooths single-frame flips.
package energy

import (
	"fmt"
	"math"

	"github.com/voxloop/voxloop/pkg/provider/vad"
)

type thresholds struct {
	energy float64
	zcrMax float64
}

// Per-mode tuning. Energy is normalized RMS (0.0–1.0); zcrMax is the fraction
// of sample pairs allowed to change sign before the frame reads as noise.
var modeThresholds = map[vad.Aggressiveness]thresholds{
	vad.Quality:        {energy: 0.005, zcrMax: 0.80},
	vad.Balanced:       {energy: 0.010, zcrMax: 0.60},
	vad.Aggressive:     {energy: 0.020, zcrMax: 0.45},
	vad.VeryAggressive: {energy: 0.030, zcrMax: 0.35},
}

// smoothWindow is the number of recent frames in the majority vote.
const smoothWindow = 3

// Engine creates energy-based VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns a new energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession validates cfg and returns a session for one audio stream.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	switch cfg.SampleRate {
	case 8000, 16000:
	default:
		return nil, fmt.Errorf("energy: unsupported sample rate %d", cfg.SampleRate)
	}
	switch cfg.FrameSizeMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("energy: unsupported frame size %dms", cfg.FrameSizeMs)
	}
	th, ok := modeThresholds[cfg.Mode]
	if !ok {
		return nil, fmt.Errorf("energy: unknown aggressiveness mode %d", cfg.Mode)
	}
	return &session{
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		th:         th,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	frameBytes int
	th         thresholds
	history    [smoothWindow]bool
	histIdx    int
	histLen    int
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Result, error) {
	if s.closed {
		return vad.Result{}, fmt.Errorf("energy: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Result{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	var sumSq float64
	var crossings int
	var prev int16
	n := len(frame) / 2
	for i := 0; i < n; i++ {
		sample := int16(frame[i*2]) | int16(frame[i*2+1])<<8
		f := float64(sample) / 32768.0
		sumSq += f * f
		if i > 0 && (sample < 0) != (prev < 0) {
			crossings++
		}
		prev = sample
	}
	rms := math.Sqrt(sumSq / float64(n))
	zcr := float64(crossings) / float64(n-1)

	raw := rms >= s.th.energy && zcr <= s.th.zcrMax

	s.history[s.histIdx] = raw
	s.histIdx = (s.histIdx + 1) % smoothWindow
	if s.histLen < smoothWindow {
		s.histLen++
	}
	votes := 0
	for i := 0; i < s.histLen; i++ {
		if s.history[i] {
			votes++
		}
	}
	voiced := votes*2 > s.histLen

	res := vad.Result{Type: vad.Silence, Energy: rms}
	if voiced {
		res.Type = vad.Voice
	}
	return res, nil
}

func (s *session) Reset() {
	s.histIdx = 0
	s.histLen = 0
}

func (s *session) Close() error {
	s.closed = true
	return nil
}
