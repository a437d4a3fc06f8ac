// Package dialogue implements the per-call pipeline state machine: VAD
// gating, STT transcript aggregation, LLM streaming with cooperative
// cancellation, and token-granular TTS streaming with barge-in.
//
// Each call is owned by a Session actor: a single goroutine consuming a
// buffered event channel. Pump goroutines translate provider streams
// into events; all session state is mutated inside the actor loop only.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/llm"
	"github.com/voxloop/voxloop/pkg/provider/stt"
	"github.com/voxloop/voxloop/pkg/provider/tts"
	"github.com/voxloop/voxloop/pkg/provider/vad"
)

// Tunables are the timing knobs of the dialogue pipeline. Zero values
// take the defaults below.
type Tunables struct {
	// SilenceHangover is how much in-utterance silence the VAD gate
	// tolerates before declaring the utterance over. The primary
	// latency knob.
	SilenceHangover time.Duration

	// InterruptFast is the minimum caller speech duration for a
	// barge-in when the STT has already confirmed a transcript.
	InterruptFast time.Duration

	// InterruptSafety is the speech duration that forces a barge-in
	// even without a transcript.
	InterruptSafety time.Duration

	// InterruptTTSRecent extends the TTS-active window past the last
	// outbound audio frame.
	InterruptTTSRecent time.Duration

	// HistoryRollback is the window after an assistant commit in which
	// a barge-in removes the committed entry again.
	HistoryRollback time.Duration

	// FlushQuiet is the downstream audio silence after a flush that
	// declares synthesis complete when the vendor's final signal never
	// arrives.
	FlushQuiet time.Duration
}

func (t Tunables) withDefaults() Tunables {
	if t.SilenceHangover == 0 {
		t.SilenceHangover = 800 * time.Millisecond
	}
	if t.InterruptFast == 0 {
		t.InterruptFast = 500 * time.Millisecond
	}
	if t.InterruptSafety == 0 {
		t.InterruptSafety = 1500 * time.Millisecond
	}
	if t.InterruptTTSRecent == 0 {
		t.InterruptTTSRecent = 2 * time.Second
	}
	if t.HistoryRollback == 0 {
		t.HistoryRollback = 2 * time.Second
	}
	if t.FlushQuiet == 0 {
		t.FlushQuiet = 500 * time.Millisecond
	}
	return t
}

// LLMParams are the completion parameters applied to every turn.
type LLMParams struct {
	Temperature float64
	MaxTokens   int
}

// SessionConfig describes one call's pipeline setup.
type SessionConfig struct {
	CallID       string
	SystemPrompt string
	STT          stt.StreamConfig
	TTS          tts.StreamConfig
	LLM          LLMParams
	Tunables     Tunables
}

// FrameWriter is the outbound telephony surface a session writes to.
// *telephony.Writer is the production implementation.
type FrameWriter interface {
	WriteMedia(ctx context.Context, frame []byte) error
	WriteMark(ctx context.Context, name string) error
	WriteClear(ctx context.Context) error
	Close() error
}

// Providers bundles the upstream services a Session depends on.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
	VAD vad.Engine
}

// phase is the turn controller state.
type phase int

const (
	phaseIdle phase = iota
	phaseCapturing
	phaseGenerating
	phaseSpeaking
	phaseTerminal
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseCapturing:
		return "capturing"
	case phaseGenerating:
		return "generating"
	case phaseSpeaking:
		return "speaking"
	case phaseTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// eventKind discriminates sessionEvent.
type eventKind int

const (
	evMedia eventKind = iota
	evGreeting
	evTranscript
	evLLMChunk
	evTTSAudio
	evTTSClosed
	evQuiet
)

// sessionEvent is the actor mailbox union. gen ties provider events to
// the turn that spawned them; events from a cancelled turn carry a
// stale gen and are dropped.
type sessionEvent struct {
	kind eventKind
	gen  int

	frame      []byte
	transcript stt.Transcript
	chunk      llm.Chunk
	audio      []byte
}

// Session owns the pipeline state of one call. All fields below the
// actor marker are owned by the run loop.
type Session struct {
	cfg       SessionConfig
	tun       Tunables
	providers Providers
	writer    FrameWriter
	logger    *slog.Logger
	metrics   Metrics
	now       func() time.Time

	events chan sessionEvent
	stop   chan struct{}
	once   sync.Once
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	startedAt time.Time
	recording *audio.RecordingBuffer

	// ---- actor state ----
	phase            phase
	gen              int
	gate             *vadGate
	sttSession       stt.SessionHandle
	ttsStream        tts.StreamHandle
	llmCancel        context.CancelFunc
	hist             history
	transcriptBuffer []string
	pendingAssistant strings.Builder
	wasInterrupted   bool
	flushed          bool
	ttsPlaying       bool
	lastAudioSentAt  time.Time
	out              ttsOut
	timings          turnTimings
	quietTimer       *time.Timer
}

// newSession opens the per-call upstream handles and starts the actor.
func newSession(cfg SessionConfig, providers Providers, writer FrameWriter, logger *slog.Logger, metrics Metrics) (*Session, error) {
	tun := cfg.Tunables.withDefaults()

	vadSess, err := providers.VAD.NewSession(vad.Config{
		SampleRate:  audio.SampleRate,
		FrameSizeMs: int(audio.FrameDuration / time.Millisecond),
		Mode:        vad.VeryAggressive,
	})
	if err != nil {
		return nil, fmt.Errorf("dialogue: open vad session: %w", err)
	}

	sttCfg := cfg.STT
	if sttCfg.SampleRate == 0 {
		sttCfg.SampleRate = audio.SampleRate
	}
	if sttCfg.Encoding == "" {
		sttCfg.Encoding = "MULAW"
	}

	ctx, cancel := context.WithCancel(context.Background())
	sttSess, err := providers.STT.StartStream(ctx, sttCfg)
	if err != nil {
		cancel()
		vadSess.Close()
		return nil, fmt.Errorf("dialogue: open stt stream: %w", err)
	}

	s := &Session{
		cfg:        cfg,
		tun:        tun,
		providers:  providers,
		writer:     writer,
		logger:     logger.With("call_id", cfg.CallID),
		metrics:    metrics,
		now:        time.Now,
		events:     make(chan sessionEvent, 256),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		startedAt:  time.Now(),
		recording:  audio.NewRecordingBuffer(audio.DefaultRecordingCap),
		gate:       newVADGate(vadSess, tun.SilenceHangover),
		sttSession: sttSess,
	}

	go s.run()
	go s.pumpSTT()
	return s, nil
}

// HandleMedia enqueues one inbound µ-law frame. Safe to call from the
// telephony read loop.
func (s *Session) HandleMedia(frame []byte) {
	s.post(sessionEvent{kind: evMedia, frame: frame})
}

// Greet enqueues the initial greeting turn.
func (s *Session) Greet() {
	s.post(sessionEvent{kind: evGreeting})
}

func (s *Session) post(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.stop:
	}
}

// close stops the actor and tears down upstream handles in order:
// cancel LLM, close STT, close TTS, close telephony writer. Blocks
// until the actor has exited. Idempotent.
func (s *Session) close() {
	s.once.Do(func() {
		s.cancel()
		close(s.stop)
	})
	<-s.done
}

// run is the actor loop.
func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			s.teardown()
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) teardown() {
	if s.llmCancel != nil {
		s.llmCancel()
		s.llmCancel = nil
	}
	if s.sttSession != nil {
		s.sttSession.Close()
	}
	if s.ttsStream != nil {
		s.ttsStream.Close()
		s.ttsStream = nil
	}
	s.writer.Close()
	s.stopQuiet()
	s.gate.vad.Close()
	s.phase = phaseTerminal
}

func (s *Session) handle(ev sessionEvent) {
	switch ev.kind {
	case evMedia:
		s.onMedia(ev.frame)
	case evGreeting:
		s.onGreeting()
	case evTranscript:
		s.onTranscript(ev.transcript)
	case evLLMChunk:
		if ev.gen == s.gen {
			s.onLLMChunk(ev.chunk)
		}
	case evTTSAudio:
		if ev.gen == s.gen {
			s.onTTSAudio(ev.audio)
		}
	case evTTSClosed:
		if ev.gen == s.gen {
			s.onTTSClosed()
		}
	case evQuiet:
		if ev.gen == s.gen && s.flushed {
			s.completeTurn(s.now())
		}
	}
}

// ---- media / VAD / barge-in ----

func (s *Session) onMedia(frame []byte) {
	now := s.now()
	s.recording.Append(audio.TrackInbound, frame)

	res, err := s.gate.processFrame(frame, now)
	if err != nil {
		s.logger.Warn("vad frame dropped", "error", err)
		s.metrics.ProviderError("vad")
		return
	}

	if res.Started {
		s.logger.Debug("speech started")
		if s.phase == phaseIdle {
			s.phase = phaseCapturing
		}
	}

	if res.Speaking {
		if err := s.sttSession.SendAudio(frame); err != nil {
			s.logger.Warn("stt send failed", "error", err)
			s.metrics.ProviderError("stt")
		}
	}

	s.checkBargeIn(now)

	if res.Ended {
		s.logger.Debug("speech ended",
			"utterance_ms", len(res.Utterance)/audio.FrameBytes*int(audio.FrameDuration/time.Millisecond))
		if s.phase == phaseCapturing {
			s.dispatchTurn(now)
		}
	}
}

// checkBargeIn fires the interrupt when the caller talks over active
// TTS playback long enough. The TTS-active window extends past turn
// completion so a barge-in landing just after the commit still rolls
// the assistant entry back.
func (s *Session) checkBargeIn(now time.Time) {
	ttsActive := s.ttsPlaying ||
		(!s.lastAudioSentAt.IsZero() && now.Sub(s.lastAudioSentAt) < s.tun.InterruptTTSRecent)
	if !s.gate.isSpeaking() || !ttsActive {
		return
	}

	d := s.gate.speechDuration(now)
	confident := d > s.tun.InterruptFast && len(s.transcriptBuffer) > 0
	safety := d > s.tun.InterruptSafety
	if confident || safety {
		s.interrupt(now)
	}
}

// interrupt runs the barge-in sequence: clear the carrier's playback
// buffer, mute TTS, cancel the LLM, roll back a just-committed
// assistant entry.
func (s *Session) interrupt(now time.Time) {
	s.logger.Info("barge-in interrupt", "phase", s.phase.String())
	s.wasInterrupted = true

	if err := s.writer.WriteClear(s.ctx); err != nil {
		s.logger.Warn("clear failed", "error", err)
	}

	s.out.reset()
	if s.ttsStream != nil {
		s.ttsStream.Close()
		s.ttsStream = nil
	}

	if s.llmCancel != nil {
		s.llmCancel()
		s.llmCancel = nil
	}

	if s.hist.rollback(now, s.tun.HistoryRollback) {
		s.logger.Debug("assistant entry rolled back")
	}

	s.lastAudioSentAt = time.Time{}
	s.pendingAssistant.Reset()
	s.hist.clearSavedAt()
	s.ttsPlaying = false
	s.flushed = false
	s.stopQuiet()
	s.timings.clear()
	s.gen++
	s.metrics.Interrupted()

	if s.gate.isSpeaking() {
		s.phase = phaseCapturing
	} else {
		s.phase = phaseIdle
	}
}

// ---- transcripts ----

func (s *Session) onTranscript(tr stt.Transcript) {
	if !tr.IsFinal {
		s.logger.Debug("partial transcript", "text", tr.Text)
		return
	}
	s.transcriptBuffer = append(s.transcriptBuffer, tr.Text)
	s.logger.Debug("final transcript", "text", tr.Text, "seq", tr.Seq)
}

// ---- turn dispatch ----

func (s *Session) onGreeting() {
	if s.cfg.SystemPrompt == "" || s.phase != phaseIdle {
		return
	}
	s.startTurn(s.now(), true)
}

// dispatchTurn joins the buffered finals into the user message and
// starts the LLM turn. A final arriving after this point joins the next
// turn's buffer.
func (s *Session) dispatchTurn(now time.Time) {
	if len(s.transcriptBuffer) == 0 {
		s.phase = phaseIdle
		return
	}

	text := strings.Join(s.transcriptBuffer, " ")
	s.transcriptBuffer = nil
	s.hist.appendUser(text)
	s.logger.Info("turn dispatched", "user_text", text)

	s.startTurn(now, false)
}

func (s *Session) startTurn(now time.Time, greeting bool) {
	s.timings.clear()
	s.timings.vadEnd = now

	ttsStream, err := s.providers.TTS.OpenStream(s.ctx, s.cfg.TTS)
	if err != nil {
		s.logger.Error("tts open failed", "error", err)
		s.metrics.ProviderError("tts")
		s.phase = phaseIdle
		return
	}

	s.gen++
	s.ttsStream = ttsStream
	s.wasInterrupted = false
	s.flushed = false
	s.ttsPlaying = false
	s.pendingAssistant.Reset()
	s.out.reset()

	msgs := s.hist.messages()
	if greeting {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: ""})
	}

	llmCtx, cancel := context.WithCancel(s.ctx)
	s.llmCancel = cancel
	s.timings.llmCall = s.now()

	chunks, err := s.providers.LLM.StreamCompletion(llmCtx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: s.cfg.SystemPrompt,
		Temperature:  s.cfg.LLM.Temperature,
		MaxTokens:    s.cfg.LLM.MaxTokens,
	})
	if err != nil {
		s.logger.Error("llm start failed", "error", err)
		s.metrics.ProviderError("llm")
		cancel()
		s.llmCancel = nil
		ttsStream.Close()
		s.ttsStream = nil
		s.phase = phaseIdle
		return
	}

	s.metrics.TurnStarted()
	s.phase = phaseGenerating

	gen := s.gen
	go s.pumpLLM(gen, chunks)
	go s.pumpTTS(gen, ttsStream)
}

// ---- LLM events ----

func (s *Session) onLLMChunk(chunk llm.Chunk) {
	if chunk.FinishReason == llm.FinishReasonError {
		s.logger.Error("llm stream failed")
		s.metrics.ProviderError("llm")
		s.abortTurn()
		return
	}

	if chunk.Text != "" {
		if s.timings.llmFirstToken.IsZero() {
			s.timings.llmFirstToken = s.now()
			s.phase = phaseSpeaking
		}
		s.pendingAssistant.WriteString(chunk.Text)
		if err := s.ttsStream.SendText(chunk.Text); err != nil {
			s.logger.Error("tts send failed", "error", err)
			s.metrics.ProviderError("tts")
			s.abortTurn()
			return
		}
	}

	if chunk.FinishReason != "" {
		if err := s.ttsStream.Flush(); err != nil {
			s.logger.Error("tts flush failed", "error", err)
			s.metrics.ProviderError("tts")
			s.abortTurn()
			return
		}
		s.flushed = true
		s.scheduleQuiet(s.gen)
	}
}

// abortTurn ends the turn without committing anything. The session
// stays alive; the next utterance starts a clean turn.
func (s *Session) abortTurn() {
	if s.llmCancel != nil {
		s.llmCancel()
		s.llmCancel = nil
	}
	if s.ttsStream != nil {
		s.ttsStream.Close()
		s.ttsStream = nil
	}
	s.out.reset()
	s.stopQuiet()
	s.timings.clear()
	s.pendingAssistant.Reset()
	s.ttsPlaying = false
	s.flushed = false
	s.gen++
	s.phase = phaseIdle
}

// ---- TTS events ----

func (s *Session) onTTSAudio(chunk []byte) {
	for _, frame := range s.out.push(chunk) {
		if !s.writeFrame(frame) {
			return
		}
	}
	if s.flushed {
		s.scheduleQuiet(s.gen)
	}
}

func (s *Session) onTTSClosed() {
	if s.ttsStream != nil {
		if err := s.ttsStream.Err(); err != nil {
			s.logger.Error("tts stream failed", "error", err)
			s.metrics.ProviderError("tts")
			s.abortTurn()
			return
		}
	}
	s.completeTurn(s.now())
}

// writeFrame sends one 160-byte frame to the carrier, recording it and
// emitting the periodic mark. Reports false when the write failed and
// the session is being torn down.
func (s *Session) writeFrame(frame []byte) bool {
	if err := s.writer.WriteMedia(s.ctx, frame); err != nil {
		s.logger.Error("telephony write failed", "error", err)
		s.metrics.ProviderError("telephony")
		s.abortTurn()
		// Stop the actor without waiting on it: run sees stop and tears
		// the session down once this event returns.
		s.once.Do(func() {
			s.cancel()
			close(s.stop)
		})
		return false
	}

	now := s.now()
	s.recording.Append(audio.TrackOutbound, frame)
	if s.timings.ttsFirstChunk.IsZero() {
		s.timings.ttsFirstChunk = now
	}
	s.lastAudioSentAt = now
	s.ttsPlaying = true

	if s.out.countFrame() {
		name := fmt.Sprintf("m-%d-%d", s.gen, s.out.framesSent)
		if err := s.writer.WriteMark(s.ctx, name); err != nil {
			s.logger.Warn("mark failed", "error", err)
		}
	}
	return true
}

// completeTurn finishes a clean turn: pad and send the tail frame,
// commit the assistant reply, emit latency metrics.
func (s *Session) completeTurn(now time.Time) {
	s.stopQuiet()

	if tail := s.out.flushTail(); tail != nil {
		s.writeFrame(tail)
	}

	if s.ttsStream != nil {
		s.ttsStream.Close()
		s.ttsStream = nil
	}
	if s.llmCancel != nil {
		s.llmCancel()
		s.llmCancel = nil
	}

	if !s.wasInterrupted && s.pendingAssistant.Len() > 0 {
		s.hist.commitAssistant(s.pendingAssistant.String(), now)
		s.logger.Info("turn committed", "assistant_len", s.pendingAssistant.Len())
	}

	if d, ok := s.timings.deltas(); ok {
		s.metrics.TurnCompleted(d)
		s.logger.Debug("turn latency",
			"vad_to_llm_ms", d.VADToLLM.Milliseconds(),
			"llm_first_token_ms", d.LLMFirstToken.Milliseconds(),
			"token_to_audio_ms", d.TokenToAudio.Milliseconds(),
			"end_to_end_ms", d.EndToEnd.Milliseconds())
	}

	s.timings.clear()
	s.pendingAssistant.Reset()
	s.ttsPlaying = false
	s.flushed = false
	s.out.reset()
	s.gen++
	s.phase = phaseIdle
}

// ---- pumps ----

func (s *Session) pumpSTT() {
	for tr := range s.sttSession.Results() {
		s.post(sessionEvent{kind: evTranscript, transcript: tr})
	}
}

func (s *Session) pumpLLM(gen int, chunks <-chan llm.Chunk) {
	for chunk := range chunks {
		s.post(sessionEvent{kind: evLLMChunk, gen: gen, chunk: chunk})
	}
}

func (s *Session) pumpTTS(gen int, h tts.StreamHandle) {
	for chunk := range h.Audio() {
		s.post(sessionEvent{kind: evTTSAudio, gen: gen, audio: chunk})
	}
	s.post(sessionEvent{kind: evTTSClosed, gen: gen})
}

// ---- quiet timer ----

func (s *Session) scheduleQuiet(gen int) {
	s.stopQuiet()
	s.quietTimer = time.AfterFunc(s.tun.FlushQuiet, func() {
		s.post(sessionEvent{kind: evQuiet, gen: gen})
	})
}

func (s *Session) stopQuiet() {
	if s.quietTimer != nil {
		s.quietTimer.Stop()
		s.quietTimer = nil
	}
}

// summary snapshots the call record. Only valid after close returned.
func (s *Session) summary(endedAt time.Time) EndOfCall {
	inbound, outbound := s.recording.Drain()
	return EndOfCall{
		CallID:    s.cfg.CallID,
		StartedAt: s.startedAt,
		EndedAt:   endedAt,
		History:   s.hist.messages(),
		Inbound:   inbound,
		Outbound:  outbound,
	}
}
