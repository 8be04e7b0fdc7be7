// Package telephony normalizes the two carrier Media Stream wire formats
// the relay accepts. Twilio and Telnyx speak near-identical JSON framing
// over the WebSocket; the differences are confined to the stream identifier
// key (streamSid vs stream_id) and where the call identifier lives. The
// decoder auto-detects the carrier from field presence on the start frame
// and the encoders emit the matching dialect, so the rest of the relay
// never branches on the carrier.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Provider identifies the carrier wire dialect of a stream.
type Provider string

const (
	ProviderTwilio Provider = "twilio"
	ProviderTelnyx Provider = "telnyx"
)

// IsValid reports whether p is a recognised carrier dialect.
func (p Provider) IsValid() bool {
	return p == ProviderTwilio || p == ProviderTelnyx
}

// Event is the carrier frame event type.
type Event string

const (
	EventConnected Event = "connected"
	EventStart     Event = "start"
	EventMedia     Event = "media"
	EventStop      Event = "stop"
	// EventMark is emitted by Twilio after a mark frame round-trips.
	// The relay tolerates and ignores it.
	EventMark Event = "mark"
)

// StartInfo carries the identifiers and custom parameters delivered with a
// start frame.
type StartInfo struct {
	// StreamID is the carrier stream identifier (streamSid or stream_id).
	StreamID string

	// CallID is the carrier call identifier (callSid or call_control_id).
	CallID string

	// AgentID is the agent identifier from customParameters, if present.
	AgentID string

	// CallLogID is the call-log identifier from customParameters, if present.
	CallLogID string
}

// Frame is one decoded inbound carrier frame.
type Frame struct {
	Event Event

	// Provider is set only on start frames, from field-presence detection.
	Provider Provider

	// Start is set only on start frames.
	Start *StartInfo

	// Payload is the decoded μ-law audio of a media frame.
	Payload []byte
}

// inboundFrame mirrors the union of both carriers' inbound JSON.
type inboundFrame struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	StreamID  string `json:"stream_id"`
	Start     *struct {
		StreamSid        string            `json:"streamSid"`
		CallSid          string            `json:"callSid"`
		CallControlID    string            `json:"call_control_id"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// Decode parses one inbound carrier frame. Media payloads are base64-decoded
// to raw μ-law. A malformed frame returns an error; the caller logs and
// skips it, the session continues.
func Decode(data []byte) (*Frame, error) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("telephony: decode frame: %w", err)
	}
	if in.Event == "" {
		return nil, fmt.Errorf("telephony: frame has no event field")
	}

	f := &Frame{Event: Event(in.Event)}
	switch f.Event {
	case EventStart:
		if in.Start == nil {
			return nil, fmt.Errorf("telephony: start frame has no start object")
		}
		f.Provider = detectProvider(&in)
		f.Start = &StartInfo{
			CallID:    in.Start.CallSid,
			AgentID:   in.Start.CustomParameters["agent_id"],
			CallLogID: in.Start.CustomParameters["call_log_id"],
		}
		switch f.Provider {
		case ProviderTelnyx:
			f.Start.StreamID = in.StreamID
			f.Start.CallID = in.Start.CallControlID
		default:
			f.Start.StreamID = in.Start.StreamSid
			if f.Start.StreamID == "" {
				f.Start.StreamID = in.StreamSid
			}
		}
		if f.Start.StreamID == "" {
			return nil, fmt.Errorf("telephony: start frame has no stream identifier")
		}
	case EventMedia:
		if in.Media == nil {
			return nil, fmt.Errorf("telephony: media frame has no media object")
		}
		payload, err := base64.StdEncoding.DecodeString(in.Media.Payload)
		if err != nil {
			return nil, fmt.Errorf("telephony: media payload: %w", err)
		}
		f.Payload = payload
	case EventConnected, EventStop, EventMark:
		// No body of interest.
	default:
		return nil, fmt.Errorf("telephony: unknown event %q", in.Event)
	}
	return f, nil
}

// detectProvider infers the carrier dialect from field presence: Twilio puts
// streamSid on the start object, Telnyx puts stream_id at the top level.
func detectProvider(in *inboundFrame) Provider {
	if in.Start != nil && in.Start.StreamSid != "" || in.StreamSid != "" {
		return ProviderTwilio
	}
	if in.StreamID != "" {
		return ProviderTelnyx
	}
	return ProviderTwilio
}

// twilioMedia and telnyxMedia are the outbound media frame shapes. Only the
// stream identifier key differs between the dialects.
type twilioMedia struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type telnyxMedia struct {
	Event    string       `json:"event"`
	StreamID string       `json:"stream_id"`
	Media    mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type twilioClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

type telnyxClear struct {
	Event    string `json:"event"`
	StreamID string `json:"stream_id"`
}

// EncodeMedia builds an outbound media frame carrying one μ-law payload in
// the dialect of p.
func EncodeMedia(p Provider, streamID string, ulaw []byte) ([]byte, error) {
	payload := mediaPayload{Payload: base64.StdEncoding.EncodeToString(ulaw)}
	switch p {
	case ProviderTelnyx:
		return json.Marshal(telnyxMedia{Event: "media", StreamID: streamID, Media: payload})
	default:
		return json.Marshal(twilioMedia{Event: "media", StreamSid: streamID, Media: payload})
	}
}

// EncodeClear builds an outbound clear frame, instructing the carrier to
// flush any audio it has buffered for playback. Sent on barge-in.
func EncodeClear(p Provider, streamID string) ([]byte, error) {
	switch p {
	case ProviderTelnyx:
		return json.Marshal(telnyxClear{Event: "clear", StreamID: streamID})
	default:
		return json.Marshal(twilioClear{Event: "clear", StreamSid: streamID})
	}
}
