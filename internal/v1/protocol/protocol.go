// Package protocol defines the JSON wire schema of the signaling channel:
// the request/ack envelope, the server-pushed events, and the typed payloads
// for every verb. Field names are part of the client contract and must not
// change.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/telemeet/sfu/internal/v1/media"
)

// EventName names a request verb or a server-pushed event.
type EventName string

// Client → server verbs.
const (
	EventGetRtpCapabilities   EventName = "getRtpCapabilities"
	EventJoinRoom             EventName = "joinRoom"
	EventCreateTransport      EventName = "createTransport"
	EventConnectTransport     EventName = "connectTransport"
	EventProduce              EventName = "produce"
	EventConsume              EventName = "consume"
	EventCloseAllScreenShares EventName = "closeAllScreenShares"
	EventGetStats             EventName = "getStats"
)

// Server → client messages.
const (
	EventAck                EventName = "ack"
	EventNewProducer        EventName = "newProducer"
	EventProducerClosed     EventName = "producerClosed"
	EventClientJoined       EventName = "clientJoined"
	EventClientDisconnected EventName = "clientDisconnected"
)

// Envelope is the framing of every message on the channel. Requests carry a
// requestId which the matching ack echoes back; server-pushed events carry
// neither.
type Envelope struct {
	Event     EventName       `json:"event"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// OutEnvelope is the outbound counterpart with an any-typed body, marshaled
// once per send.
type OutEnvelope struct {
	Event     EventName `json:"event"`
	RequestID string    `json:"requestId,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// ErrorAck is the body of a failed request's ack. Expected failures never
// terminate the connection.
type ErrorAck struct {
	Error string `json:"error"`
}

// Errorf builds an ErrorAck.
func Errorf(format string, args ...any) ErrorAck {
	return ErrorAck{Error: fmt.Sprintf(format, args...)}
}

// --- Request payloads ---

type JoinRoomRequest struct {
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
}

func (r JoinRoomRequest) Validate() error {
	if r.RoomID == "" {
		return errors.New("roomId is required")
	}
	if r.ClientID == "" {
		return errors.New("clientId is required")
	}
	return nil
}

type CreateTransportRequest struct {
	Type string `json:"type"`
}

type ConnectTransportRequest struct {
	TransportID    string          `json:"transportId"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

func (r ConnectTransportRequest) Validate() error {
	if r.TransportID == "" {
		return errors.New("transportId is required")
	}
	if len(r.DTLSParameters) == 0 {
		return errors.New("dtlsParameters is required")
	}
	return nil
}

type ProduceRequest struct {
	TransportID   string          `json:"transportId"`
	ClientID      string          `json:"clientId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
	AppData       media.AppData   `json:"appData"`
}

func (r ProduceRequest) Validate() error {
	if r.TransportID == "" {
		return errors.New("transportId is required")
	}
	if _, err := media.ParseKind(r.Kind); err != nil {
		return err
	}
	if len(r.RTPParameters) == 0 {
		return errors.New("rtpParameters is required")
	}
	if r.AppData.Source == "" {
		return errors.New("appData.source is required")
	}
	return nil
}

type ConsumeRequest struct {
	TransportID     string          `json:"transportId"`
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

func (r ConsumeRequest) Validate() error {
	if r.TransportID == "" {
		return errors.New("transportId is required")
	}
	if r.ProducerID == "" {
		return errors.New("producerId is required")
	}
	if len(r.RTPCapabilities) == 0 {
		return errors.New("rtpCapabilities is required")
	}
	return nil
}

type CloseAllScreenSharesRequest struct {
	ClientID string `json:"clientId"`
}

// --- Ack payloads ---

type RtpCapabilitiesAck struct {
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

// ProducerInfo is the per-producer view published to joiners and broadcast
// on new producers.
type ProducerInfo struct {
	ProducerID string        `json:"producerId"`
	ClientID   string        `json:"clientId"`
	Kind       string        `json:"kind"`
	AppData    media.AppData `json:"appData"`
}

type JoinRoomAck struct {
	Producers []ProducerInfo `json:"producers"`
}

type CreateTransportAck struct {
	TransportOptions *media.TransportInfo `json:"transportOptions"`
}

type ConnectTransportAck struct{}

type ProduceAck struct {
	ProducerID string `json:"producerId"`
}

type ConsumeAck struct {
	ConsumerID    string          `json:"consumerId"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

type CloseAllScreenSharesAck struct {
	ClosedCount int `json:"closedCount"`
}

type RoomStats struct {
	RoomID          string `json:"roomId"`
	Members         int    `json:"members"`
	CameraProducers int    `json:"cameraProducers"`
	ScreenProducers int    `json:"screenProducers"`
	Consumers       int    `json:"consumers"`
}

// --- Server-pushed event payloads ---

type ProducerClosedEvent struct {
	ProducerID string `json:"producerId"`
}

type ClientJoinedEvent struct {
	ClientID string `json:"clientId"`
}

type ClientDisconnectedEvent struct {
	ClientID string `json:"clientId"`
}
