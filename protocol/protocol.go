// Package protocol defines the JSON envelopes exchanged with the browser.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedMessage = errors.New("malformed message")

// Inbound message types.
const (
	TypeAudio           = "audio"
	TypeContinuousAudio = "continuous_audio"
	TypeStartCall       = "start_call"
	TypeEndCall         = "end_call"
	TypeEnd             = "end"
)

// Outbound event types.
const (
	TypeSession       = "session"
	TypeStatus        = "status"
	TypeCallStatus    = "call_status"
	TypeTranscription = "transcription"
	TypeResponseChunk = "response_chunk"
	TypeAudioResponse = "audio_response"
	TypeError         = "error"
)

const (
	StatusProcessing = "processing"
	StatusReady      = "ready"

	CallActive = "active"
	CallEnded  = "ended"
)

// Message is a client frame.
type Message struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

// Decode parses a client frame. Every failure wraps ErrMalformedMessage.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return msg, nil
}

// AudioBytes decodes the base64 payload of an audio frame.
func (m Message) AudioBytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, fmt.Errorf("%w: audio is not base64: %v", ErrMalformedMessage, err)
	}
	return data, nil
}

// Event is a server frame. Only the fields relevant to Type are set.
type Event struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId,omitempty"`
	IsContinuous *bool  `json:"isContinuous,omitempty"`
	Status       string `json:"status,omitempty"`
	Message      string `json:"message,omitempty"`
	Text         string `json:"text,omitempty"`
	Audio        string `json:"audio,omitempty"`
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// MarshalJSON always writes text on transcription and response_chunk
// events, even when it is empty.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire Event
	switch e.Type {
	case TypeTranscription, TypeResponseChunk:
		return json.Marshal(struct {
			wire
			Text string `json:"text"`
		}{wire(e), e.Text})
	}
	return json.Marshal(wire(e))
}

func Session(id string, continuous bool) Event {
	return Event{Type: TypeSession, SessionID: id, IsContinuous: &continuous}
}

func Status(status string) Event {
	return Event{Type: TypeStatus, Status: status}
}

func CallStatus(status, message string) Event {
	return Event{Type: TypeCallStatus, Status: status, Message: message}
}

func Transcription(text string) Event {
	return Event{Type: TypeTranscription, Text: text}
}

func ResponseChunk(text string) Event {
	return Event{Type: TypeResponseChunk, Text: text}
}

func AudioResponse(audio []byte) Event {
	return Event{Type: TypeAudioResponse, Audio: base64.StdEncoding.EncodeToString(audio)}
}

func Error(message string) Event {
	return Event{Type: TypeError, Message: message}
}
