// Package telephony implements the carrier-facing media stream protocol.
//
// A carrier connects one WebSocket per call and exchanges JSON envelopes:
// start (stream metadata), media (base64 µ-law frames), stop, then closes.
// Outbound, the platform sends media frames, mark checkpoints, and clear
// commands that drop the carrier's playback buffer.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Inbound event names.
const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
)

// MediaFormat describes the audio encoding of a stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StartEvent is the first envelope on a call. It carries the stream
// identity and any carrier-side parameters configured for the number.
type StartEvent struct {
	StreamSID        string            `json:"streamSid"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaEvent carries one audio frame from the caller.
type MediaEvent struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// DecodePayload returns the raw µ-law bytes of the frame.
func (m *MediaEvent) DecodePayload() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("telephony: decode media payload: %w", err)
	}
	return data, nil
}

// StopEvent signals the carrier has ended the stream.
type StopEvent struct{}

// InboundEvent is the envelope for all carrier-to-platform messages.
// Exactly one of Start, Media, Stop is non-nil for known event types;
// unknown types leave all three nil and carry only Event.
type InboundEvent struct {
	Event string `json:"event"`

	Start *StartEvent
	Media *MediaEvent
	Stop  *StopEvent
}

// inboundEnvelope is the raw wire shape used for decoding.
type inboundEnvelope struct {
	Event string          `json:"event"`
	Start json.RawMessage `json:"start"`
	Media json.RawMessage `json:"media"`
	Stop  json.RawMessage `json:"stop"`
}

// ParseInbound decodes one carrier envelope. Malformed JSON is an error;
// a well-formed envelope with an unknown event name is not.
func ParseInbound(data []byte) (*InboundEvent, error) {
	var raw inboundEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("telephony: parse envelope: %w", err)
	}

	ev := &InboundEvent{Event: raw.Event}
	switch raw.Event {
	case EventStart:
		var start StartEvent
		if err := json.Unmarshal(raw.Start, &start); err != nil {
			return nil, fmt.Errorf("telephony: parse start: %w", err)
		}
		ev.Start = &start
	case EventMedia:
		var media MediaEvent
		if err := json.Unmarshal(raw.Media, &media); err != nil {
			return nil, fmt.Errorf("telephony: parse media: %w", err)
		}
		ev.Media = &media
	case EventStop:
		ev.Stop = &StopEvent{}
	}
	return ev, nil
}

// ---- Outbound envelopes ----

// outboundMedia is the platform-to-carrier audio frame.
type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// outboundMark asks the carrier to echo a checkpoint after playback
// reaches this point in the buffer.
type outboundMark struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Mark      markPayload `json:"mark"`
}

type markPayload struct {
	Name string `json:"name"`
}

// outboundClear tells the carrier to drop its buffered playback audio.
type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}
