// Package telephony provides the outbound-call provider client, the
// bidirectional media-stream wire protocol, and the G.711 codec used to
// speak onto an 8 kHz telephone leg.
package telephony

import (
	"encoding/xml"
	"fmt"
)

// Media-stream event names. Inbound: start, media, stop. Outbound: media,
// clear (clear discards queued playback on the provider side — barge-in).
const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
	EventClear = "clear"
)

// StreamMessage is one JSON frame on the media-stream websocket.
type StreamMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Stop      *StopPayload  `json:"stop,omitempty"`
}

// StartPayload opens a stream and carries the call identifiers plus any
// custom parameters set on the stream-connect instruction (scheduleId,
// jobId, callId).
type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaPayload carries one base64-encoded µ-law 8 kHz mono audio frame.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// StopPayload closes a stream.
type StopPayload struct {
	CallSID string `json:"callSid"`
}

// NewMediaMessage builds an outbound media frame for a stream.
func NewMediaMessage(streamSID, payload string) StreamMessage {
	return StreamMessage{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaPayload{Payload: payload},
	}
}

// NewClearMessage builds the clear frame that discards queued playback.
func NewClearMessage(streamSID string) StreamMessage {
	return StreamMessage{Event: EventClear, StreamSID: streamSID}
}

// ---------- Voice Webhook Response ----------

// voiceResponse is the XML instruction document returned from the voice
// webhook: connect the call to a media stream and pass custom parameters.
type voiceResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect voiceConnect `xml:"Connect"`
}

type voiceConnect struct {
	Stream voiceStream `xml:"Stream"`
}

type voiceStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []voiceParameter `xml:"Parameter"`
}

type voiceParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ConnectStreamXML renders the voice webhook response that tells the
// provider to open a media stream to streamURL, forwarding params as custom
// parameters on the start event.
func ConnectStreamXML(streamURL string, params map[string]string) ([]byte, error) {
	resp := voiceResponse{
		Connect: voiceConnect{Stream: voiceStream{URL: streamURL}},
	}
	// Stable order keeps the document deterministic for tests.
	for _, name := range []string{"scheduleId", "jobId", "callId"} {
		if v, ok := params[name]; ok {
			resp.Connect.Stream.Parameters = append(resp.Connect.Stream.Parameters,
				voiceParameter{Name: name, Value: v})
		}
	}
	data, err := xml.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal voice response: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}
