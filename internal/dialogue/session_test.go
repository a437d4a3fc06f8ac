package dialogue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/llm"
	llmmock "github.com/voxloop/voxloop/pkg/provider/llm/mock"
	"github.com/voxloop/voxloop/pkg/provider/stt"
	sttmock "github.com/voxloop/voxloop/pkg/provider/stt/mock"
	ttsmock "github.com/voxloop/voxloop/pkg/provider/tts/mock"
	"github.com/voxloop/voxloop/pkg/provider/vad"
	vadmock "github.com/voxloop/voxloop/pkg/provider/vad/mock"
)

var errTest = errors.New("test error")

// fakeWriter is a thread-safe FrameWriter capturing outbound traffic.
type fakeWriter struct {
	mu       sync.Mutex
	media    [][]byte
	marks    []string
	clears   int
	closes   int
	mediaErr error
}

func (w *fakeWriter) WriteMedia(_ context.Context, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mediaErr != nil {
		return w.mediaErr
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	w.media = append(w.media, cp)
	return nil
}

func (w *fakeWriter) WriteMark(_ context.Context, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.marks = append(w.marks, name)
	return nil
}

func (w *fakeWriter) WriteClear(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clears++
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	return nil
}

func (w *fakeWriter) mediaCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.media)
}

func (w *fakeWriter) clearCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clears
}

func (w *fakeWriter) markCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.marks)
}

func (w *fakeWriter) mediaFrame(i int) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.media[i]
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

type testPipeline struct {
	sess    *Session
	writer  *fakeWriter
	sttSess *sttmock.Session
	llmProv *llmmock.Provider
	ttsStr  *ttsmock.Stream
}

func newTestPipeline(t *testing.T, cfg SessionConfig, vadScript []vad.Result, chunks []llm.Chunk, delay <-chan struct{}) *testPipeline {
	t.Helper()

	sttSess := sttmock.NewSession()
	llmProv := &llmmock.Provider{Chunks: chunks, ChunkDelay: delay}
	ttsStr := ttsmock.NewStream()
	providers := Providers{
		VAD: &vadmock.Engine{Session: &vadmock.Session{Results: vadScript}},
		STT: &sttmock.Provider{Session: sttSess},
		LLM: llmProv,
		TTS: &ttsmock.Provider{Stream: ttsStr},
	}
	writer := &fakeWriter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sess, err := newSession(cfg, providers, writer, logger, NopMetrics{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sess.close)

	return &testPipeline{sess: sess, writer: writer, sttSess: sttSess, llmProv: llmProv, ttsStr: ttsStr}
}

func mediaFrame() []byte {
	return make([]byte, audio.FrameBytes)
}

func TestSession_CleanSingleTurn(t *testing.T) {
	cfg := SessionConfig{
		CallID:   "c1",
		Tunables: Tunables{SilenceHangover: 20 * time.Millisecond, FlushQuiet: 30 * time.Millisecond},
	}
	p := newTestPipeline(t, cfg,
		[]vad.Result{{Type: vad.Voice}},
		[]llm.Chunk{{Text: "Hello "}, {Text: "there"}, {FinishReason: "stop"}},
		nil)

	p.sess.HandleMedia(mediaFrame())
	p.sttSess.EmitResult(stt.Transcript{Text: "hi", IsFinal: true, Seq: 1})
	time.Sleep(40 * time.Millisecond)
	p.sess.HandleMedia(mediaFrame()) // silence past the hangover dispatches the turn

	// Ten full frames plus a 40-byte tail.
	p.ttsStr.EmitAudio(make([]byte, 10*audio.FrameBytes+40))
	waitFor(t, "audio frames", func() bool { return p.writer.mediaCount() == 10 })
	waitFor(t, "mark checkpoint", func() bool { return p.writer.markCount() == 1 })
	// Flush-quiet completion pads and sends the tail.
	waitFor(t, "tail frame", func() bool { return p.writer.mediaCount() == 11 })

	p.sess.close()

	tail := p.writer.mediaFrame(10)
	for i := 40; i < audio.FrameBytes; i++ {
		if tail[i] != audio.MulawSilence {
			t.Fatalf("tail[%d] = %#x, want silence padding", i, tail[i])
		}
	}

	if got := p.ttsStr.SentTexts; len(got) != 2 || got[0] != "Hello " || got[1] != "there" {
		t.Errorf("SentTexts = %v", got)
	}
	if p.ttsStr.FlushCallCount != 1 {
		t.Errorf("flushes = %d, want 1", p.ttsStr.FlushCallCount)
	}

	msgs := p.sess.hist.messages()
	if len(msgs) != 2 {
		t.Fatalf("history = %+v", msgs)
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Content != "hi" {
		t.Errorf("history[0] = %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleAssistant || msgs[1].Content != "Hello there" {
		t.Errorf("history[1] = %+v", msgs[1])
	}
}

func TestSession_BargeInInterruptsTurn(t *testing.T) {
	cfg := SessionConfig{
		CallID: "c2",
		Tunables: Tunables{
			SilenceHangover: 20 * time.Millisecond,
			InterruptFast:   20 * time.Millisecond,
			InterruptSafety: 10 * time.Second,
			FlushQuiet:      10 * time.Second,
		},
	}
	release := make(chan struct{}, 1)
	release <- struct{}{} // let exactly one token through
	p := newTestPipeline(t, cfg,
		[]vad.Result{{Type: vad.Voice}, {Type: vad.Silence}, {Type: vad.Voice}, {Type: vad.Voice}},
		[]llm.Chunk{{Text: "Hello"}, {FinishReason: "stop"}},
		release)

	p.sess.HandleMedia(mediaFrame())
	p.sttSess.EmitResult(stt.Transcript{Text: "hi", IsFinal: true, Seq: 1})
	time.Sleep(40 * time.Millisecond)
	p.sess.HandleMedia(mediaFrame()) // dispatch

	p.ttsStr.EmitAudio(make([]byte, audio.FrameBytes))
	waitFor(t, "first audio frame", func() bool { return p.writer.mediaCount() == 1 })

	// Caller talks over the playback; STT confirms it.
	p.sess.HandleMedia(mediaFrame())
	p.sttSess.EmitResult(stt.Transcript{Text: "wait", IsFinal: true, Seq: 2})
	time.Sleep(40 * time.Millisecond)
	p.sess.HandleMedia(mediaFrame())

	waitFor(t, "clear envelope", func() bool { return p.writer.clearCount() == 1 })
	p.sess.close()

	msgs := p.sess.hist.messages()
	if len(msgs) != 1 || msgs[0].Role != llm.RoleUser {
		t.Fatalf("interrupted turn must not commit assistant text: %+v", msgs)
	}
	if p.ttsStr.CloseCallCount == 0 {
		t.Error("tts stream should be closed on interrupt")
	}
	if len(p.sess.transcriptBuffer) != 1 || p.sess.transcriptBuffer[0] != "wait" {
		t.Errorf("next-turn buffer = %v", p.sess.transcriptBuffer)
	}
}

func TestSession_RollbackAfterCommitRace(t *testing.T) {
	cfg := SessionConfig{
		CallID: "c3",
		Tunables: Tunables{
			SilenceHangover: 20 * time.Millisecond,
			InterruptFast:   20 * time.Millisecond,
			InterruptSafety: 10 * time.Second,
			FlushQuiet:      30 * time.Millisecond,
		},
	}
	p := newTestPipeline(t, cfg,
		[]vad.Result{{Type: vad.Voice}, {Type: vad.Silence}, {Type: vad.Voice}, {Type: vad.Voice}},
		[]llm.Chunk{{Text: "Hello"}, {FinishReason: "stop"}},
		nil)

	p.sess.HandleMedia(mediaFrame())
	p.sttSess.EmitResult(stt.Transcript{Text: "hi", IsFinal: true, Seq: 1})
	time.Sleep(40 * time.Millisecond)
	p.sess.HandleMedia(mediaFrame()) // dispatch

	// One full frame plus a tail; the tail arriving marks completion.
	p.ttsStr.EmitAudio(make([]byte, audio.FrameBytes+40))
	waitFor(t, "turn completion", func() bool { return p.writer.mediaCount() == 2 })

	// Barge-in lands inside the rollback window; the committed
	// assistant entry is removed again.
	p.sess.HandleMedia(mediaFrame())
	p.sttSess.EmitResult(stt.Transcript{Text: "wait", IsFinal: true, Seq: 2})
	time.Sleep(40 * time.Millisecond)
	p.sess.HandleMedia(mediaFrame())

	waitFor(t, "clear envelope", func() bool { return p.writer.clearCount() == 1 })
	p.sess.close()

	msgs := p.sess.hist.messages()
	if len(msgs) != 1 || msgs[0].Role != llm.RoleUser || msgs[0].Content != "hi" {
		t.Fatalf("history after rollback = %+v", msgs)
	}
}

func TestSession_GreetingTurn(t *testing.T) {
	cfg := SessionConfig{
		CallID:       "c4",
		SystemPrompt: "You are Vox.",
		Tunables:     Tunables{FlushQuiet: 30 * time.Millisecond},
	}
	p := newTestPipeline(t, cfg, nil,
		[]llm.Chunk{{Text: "Welcome!"}, {FinishReason: "stop"}},
		nil)

	p.sess.Greet()
	p.ttsStr.EmitAudio(make([]byte, audio.FrameBytes+40))
	waitFor(t, "greeting audio", func() bool { return p.writer.mediaCount() == 2 })
	p.sess.close()

	msgs := p.sess.hist.messages()
	if len(msgs) != 1 || msgs[0].Role != llm.RoleAssistant || msgs[0].Content != "Welcome!" {
		t.Fatalf("greeting history = %+v", msgs)
	}

	calls := p.llmProv.StreamCompletionCalls
	if len(calls) != 1 {
		t.Fatalf("llm calls = %d", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != "You are Vox." {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "" {
		t.Errorf("greeting messages = %+v", req.Messages)
	}
}

func TestSession_GreetingRequiresSystemPrompt(t *testing.T) {
	cfg := SessionConfig{CallID: "c5"}
	p := newTestPipeline(t, cfg, nil, []llm.Chunk{{FinishReason: "stop"}}, nil)

	p.sess.Greet()
	time.Sleep(50 * time.Millisecond)
	p.sess.close()

	if len(p.llmProv.StreamCompletionCalls) != 0 {
		t.Error("greeting without system prompt should not call the LLM")
	}
}

func TestSession_LateFinalJoinsNextTurn(t *testing.T) {
	cfg := SessionConfig{
		CallID:   "c6",
		Tunables: Tunables{SilenceHangover: 20 * time.Millisecond, FlushQuiet: 30 * time.Millisecond},
	}
	p := newTestPipeline(t, cfg,
		[]vad.Result{{Type: vad.Voice}, {Type: vad.Silence}, {Type: vad.Voice}, {Type: vad.Silence}},
		[]llm.Chunk{{Text: "ok"}, {FinishReason: "stop"}},
		nil)

	// First utterance ends before any final arrives: no turn.
	p.sess.HandleMedia(mediaFrame())
	time.Sleep(40 * time.Millisecond)
	p.sess.HandleMedia(mediaFrame())

	// The late final lands after dispatch and belongs to the next turn.
	p.sttSess.EmitResult(stt.Transcript{Text: "left over", IsFinal: true, Seq: 1})
	time.Sleep(20 * time.Millisecond)

	p.sess.HandleMedia(mediaFrame())
	time.Sleep(40 * time.Millisecond)
	p.sess.HandleMedia(mediaFrame())

	p.ttsStr.EmitAudio(make([]byte, audio.FrameBytes))
	waitFor(t, "second turn audio", func() bool { return p.writer.mediaCount() >= 1 })
	p.sess.close()

	calls := p.llmProv.StreamCompletionCalls
	if len(calls) != 1 {
		t.Fatalf("llm calls = %d, want 1 (empty first turn skipped)", len(calls))
	}
	msgs := p.sess.hist.messages()
	if len(msgs) == 0 || msgs[0].Content != "left over" {
		t.Fatalf("history = %+v", msgs)
	}
}

func TestSession_TelephonyWriteFailureAbortsTurn(t *testing.T) {
	cfg := SessionConfig{
		CallID:   "c7",
		Tunables: Tunables{SilenceHangover: 20 * time.Millisecond, FlushQuiet: 10 * time.Second},
	}
	p := newTestPipeline(t, cfg,
		[]vad.Result{{Type: vad.Voice}},
		[]llm.Chunk{{Text: "Hello"}, {FinishReason: "stop"}},
		nil)
	p.writer.mu.Lock()
	p.writer.mediaErr = errTest
	p.writer.mu.Unlock()

	p.sess.HandleMedia(mediaFrame())
	p.sttSess.EmitResult(stt.Transcript{Text: "hi", IsFinal: true, Seq: 1})
	time.Sleep(40 * time.Millisecond)
	p.sess.HandleMedia(mediaFrame())

	p.ttsStr.EmitAudio(make([]byte, audio.FrameBytes))
	time.Sleep(50 * time.Millisecond)
	p.sess.close()

	msgs := p.sess.hist.messages()
	if len(msgs) != 1 {
		t.Fatalf("aborted turn must not commit assistant text: %+v", msgs)
	}
}

func TestSession_CloseTearsDownUpstreams(t *testing.T) {
	cfg := SessionConfig{CallID: "c8"}
	p := newTestPipeline(t, cfg, nil, nil, nil)

	p.sess.close()
	p.sess.close() // idempotent

	if p.sttSess.CloseCallCount == 0 {
		t.Error("stt session not closed")
	}
	if p.writer.closes == 0 {
		t.Error("writer not closed")
	}
	if p.sess.phase != phaseTerminal {
		t.Errorf("phase = %v, want terminal", p.sess.phase)
	}
}

func TestSession_SttOpenFailure(t *testing.T) {
	providers := Providers{
		VAD: &vadmock.Engine{},
		STT: &sttmock.Provider{StartStreamErr: errTest},
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := newSession(SessionConfig{CallID: "c9"}, providers, &fakeWriter{}, logger, NopMetrics{}); err == nil {
		t.Error("expected error when stt stream cannot open")
	}
}
