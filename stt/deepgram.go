package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
)

var initDeepgram sync.Once

// DeepgramTranscriber sends a whole utterance to Deepgram's prerecorded
// endpoint and joins the transcripts of every channel.
type DeepgramTranscriber struct {
	token  string
	logger *log.Logger

	Model    string
	Language string

	// Host overrides api.deepgram.com.
	Host           string
	SkipServerAuth bool
}

func NewDeepgramTranscriber(token string, logger *log.Logger) *DeepgramTranscriber {
	initDeepgram.Do(listen.InitWithDefault)
	if logger == nil {
		logger = log.Default()
	}
	return &DeepgramTranscriber{
		token:  token,
		logger: logger,
		Model:  "nova-2",
	}
}

func (d *DeepgramTranscriber) Transcribe(
	ctx context.Context,
	audio []byte,
) (string, error) {
	cOptions := &interfaces.ClientOptions{
		Host:           d.Host,
		SkipServerAuth: d.SkipServerAuth,
	}
	tOptions := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.Model,
		Language:    d.Language,
		Punctuate:   true,
		SmartFormat: true,
	}

	dg := api.New(listen.NewREST(d.token, cOptions))
	res, err := dg.FromStream(ctx, bytes.NewReader(audio), tOptions)
	if err != nil {
		return "", fmt.Errorf("deepgram transcription failed: %w", err)
	}
	if res == nil || res.Results == nil {
		return "", nil
	}

	var parts []string
	for _, channel := range res.Results.Channels {
		if len(channel.Alternatives) == 0 {
			continue
		}
		best := channel.Alternatives[0]
		text := strings.TrimSpace(best.Transcript)
		if text == "" {
			continue
		}
		d.logger.Debug("deepgram transcript", "text", text, "confidence", best.Confidence)
		parts = append(parts, text)
	}
	return strings.Join(parts, " "), nil
}
