// Package media wraps the SFU engine behind a narrow Router interface.
//
// The signaling layer never talks to the engine directly: it negotiates
// transports, producers, and consumers through Router and observes the
// engine's asynchronous lifecycle through the event stream. This keeps the
// engine swappable and lets tests run against an in-memory fake.
package media

import (
	"encoding/json"
	"fmt"
)

// Direction is the orientation of a WebRTC transport from the client's
// perspective: "send" carries media into the SFU, "recv" out of it.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// ParseDirection validates a wire-supplied transport direction.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionSend, DirectionRecv:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown transport type %q", s)
}

// Kind is the media kind of a producer or consumer.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ParseKind validates a wire-supplied media kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindAudio, KindVideo:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// Source classifies a producer's origin. It drives the UI and the
// one-screen-share-per-room arbitration.
type Source string

const (
	SourceCamera Source = "camera"
	SourceScreen Source = "screen"
)

// UnmarshalJSON rejects unknown source variants at the protocol boundary.
func (s *Source) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch Source(raw) {
	case SourceCamera, SourceScreen:
		*s = Source(raw)
		return nil
	}
	return fmt.Errorf("unknown media source %q", raw)
}

// AppData is the application metadata attached to a producer.
type AppData struct {
	Source Source `json:"source"`
}

// TransportInfo is returned by Router.CreateTransport. The ICE and DTLS
// blobs are opaque to the control plane and handed to the client verbatim.
type TransportInfo struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// ConsumeResult is returned by Router.Consume.
type ConsumeResult struct {
	ConsumerID    string
	Kind          Kind
	RTPParameters json.RawMessage
}
