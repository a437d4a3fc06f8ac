package dialogue

// Metrics receives pipeline measurements from the dialogue layer. The
// observe package provides the OpenTelemetry-backed implementation;
// tests use the no-op.
type Metrics interface {
	// SessionStarted and SessionEnded track the number of live call
	// sessions.
	SessionStarted()
	SessionEnded()

	// TurnStarted counts a dispatched turn.
	TurnStarted()

	// TurnCompleted records the latency deltas of a clean turn.
	TurnCompleted(d TurnDeltas)

	// Interrupted counts a barge-in interrupt.
	Interrupted()

	// ProviderError counts an upstream failure by stage ("stt", "llm",
	// "tts", "vad", "telephony").
	ProviderError(stage string)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) SessionStarted()          {}
func (NopMetrics) SessionEnded()            {}
func (NopMetrics) TurnStarted()             {}
func (NopMetrics) TurnCompleted(TurnDeltas) {}
func (NopMetrics) Interrupted()             {}
func (NopMetrics) ProviderError(string)     {}

var _ Metrics = NopMetrics{}
