// Package stt turns a recorded utterance into text.
package stt

import "context"

// Transcriber converts one complete audio blob into a transcript. An empty
// transcript with a nil error means the audio held no speech.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}
