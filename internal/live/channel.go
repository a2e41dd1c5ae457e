// Package live defines the streaming channel contract between realtime
// sessions and a generative-AI provider.
package live

import (
	"context"
	"errors"
	"strings"
)

// InputKind tags an Input
type InputKind int

const (
	InputText InputKind = iota
	InputAudio
	InputImage
)

func (k InputKind) String() string {
	switch k {
	case InputAudio:
		return "audio"
	case InputImage:
		return "image"
	default:
		return "text"
	}
}

// Input is one unit sent into a channel. Data and MIMEType are set for
// audio and image chunks.
type Input struct {
	Kind     InputKind
	Text     string
	Data     []byte
	MIMEType string
}

func Text(s string) Input {
	return Input{Kind: InputText, Text: s}
}

func Audio(data []byte, mimeType string) Input {
	return Input{Kind: InputAudio, Data: data, MIMEType: mimeType}
}

func Image(data []byte, mimeType string) Input {
	return Input{Kind: InputImage, Data: data, MIMEType: mimeType}
}

// EventKind tags an Event
type EventKind int

const (
	EventPartialTranscript EventKind = iota
	EventPartialResponse
	// EventTurnBoundary marks the end of a generation; turns are built here.
	EventTurnBoundary
	// EventTurnComplete ends one provider round and is informational.
	EventTurnComplete
	EventTransportError
	EventTransportClosed
)

func (k EventKind) String() string {
	switch k {
	case EventPartialTranscript:
		return "partial_transcript"
	case EventPartialResponse:
		return "partial_response"
	case EventTurnBoundary:
		return "turn_boundary"
	case EventTurnComplete:
		return "turn_complete"
	case EventTransportError:
		return "transport_error"
	case EventTransportClosed:
		return "transport_closed"
	}
	return "unknown"
}

// Event is emitted by a channel. Text carries fragments; Err, Reason and
// Code describe transport failures.
type Event struct {
	Kind   EventKind
	Text   string
	Err    error
	Reason string
	Code   int
}

// Sink receives channel events asynchronously, in emission order.
type Sink func(Event)

// Config is passed through to the provider at connection setup.
type Config struct {
	Model             string
	Language          string
	SystemInstruction string
	SearchEnabled     bool
}

// Channel is one open provider connection. Send reports only whether the
// input was accepted; replies arrive through the Sink.
type Channel interface {
	Send(ctx context.Context, in Input) error
	Close() error
}

// Transport opens channels.
type Transport interface {
	Open(ctx context.Context, cfg Config, sink Sink) (Channel, error)
}

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("channel closed")

var credentialMarkers = []string{
	"api key not valid",
	"invalid api key",
	"authentication failed",
	"unauthorized",
}

// IsCredentialFailure reports whether reason names a credential problem that
// retrying cannot fix.
func IsCredentialFailure(reason string) bool {
	reason = strings.ToLower(reason)
	for _, m := range credentialMarkers {
		if strings.Contains(reason, m) {
			return true
		}
	}
	return false
}
