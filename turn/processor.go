// Package turn runs one conversational turn: transcribe an utterance, stream
// the model's reply and synthesize it, emitting events as it goes.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"node.town/voxrelay/etc"
	"node.town/voxrelay/llm"
	"node.town/voxrelay/metrics"
	"node.town/voxrelay/protocol"
	"node.town/voxrelay/session"
	"node.town/voxrelay/stt"
	"node.town/voxrelay/tts"
)

const (
	DefaultProviderTimeout    = 30 * time.Second
	DefaultMinTranscriptChars = 2
)

// Emitter delivers an event to the client that owns the session.
type Emitter interface {
	Emit(event protocol.Event) error
}

type EmitterFunc func(event protocol.Event) error

func (f EmitterFunc) Emit(event protocol.Event) error {
	return f(event)
}

type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageComplete   Stage = "complete"
	StageSynthesize Stage = "synthesize"
)

// ProviderError is a failed or timed-out provider call. Its message is the
// provider's own.
type ProviderError struct {
	Stage Stage
	Err   error
}

func (e *ProviderError) Error() string {
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Record is a finished exchange handed to the archive.
type Record struct {
	SessionID string
	Mode      session.Mode
	User      string
	Assistant string
	StartedAt time.Time
	Duration  time.Duration
}

type Recorder interface {
	RecordTurn(ctx context.Context, rec Record) error
}

type Options struct {
	Store       *session.Store
	Transcriber stt.Transcriber
	Model       llm.LanguageModel
	Speech      tts.SpeechGenerator

	Recorder Recorder
	Metrics  *metrics.Metrics
	Logger   *log.Logger

	ProviderTimeout    time.Duration
	MinTranscriptChars int
	MaxTokens          int
	Temperature        float32
}

type Processor struct {
	store       *session.Store
	transcriber stt.Transcriber
	model       llm.LanguageModel
	speech      tts.SpeechGenerator
	recorder    Recorder
	metrics     *metrics.Metrics
	log         *log.Logger

	timeout     time.Duration
	minChars    int
	maxTokens   int
	temperature float32
}

func NewProcessor(opts Options) *Processor {
	p := &Processor{
		store:       opts.Store,
		transcriber: opts.Transcriber,
		model:       opts.Model,
		speech:      opts.Speech,
		recorder:    opts.Recorder,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		timeout:     opts.ProviderTimeout,
		minChars:    opts.MinTranscriptChars,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultProviderTimeout
	}
	if p.minChars <= 0 {
		p.minChars = DefaultMinTranscriptChars
	}
	if p.log == nil {
		p.log = log.Default()
	}
	return p
}

// Run processes one utterance for the session. Failures are reported to the
// client as an error event followed by a ready status, and returned.
func (p *Processor) Run(
	ctx context.Context,
	sessionID string,
	audio []byte,
	emit Emitter,
) error {
	sess, err := p.store.Get(sessionID)
	if err != nil {
		p.emit(emit, protocol.Error(err.Error()))
		p.emit(emit, protocol.Status(protocol.StatusReady))
		return err
	}
	sess.BeginTurn()
	defer sess.EndTurn()

	started := time.Now()
	logger := p.log.With("session", sessionID, "mode", sess.Mode)

	err = p.run(ctx, sess, audio, emit, logger, started)
	outcome := "ok"
	switch {
	case errors.Is(err, errSkipped):
		outcome = "skipped"
		err = nil
	case err != nil:
		outcome = "error"
		logger.Error("turn failed", "error", err)
		p.emit(emit, protocol.Error(err.Error()))
	}
	p.emit(emit, protocol.Status(protocol.StatusReady))
	p.metrics.RecordTurn(sess.Mode.String(), outcome)
	p.touch(sessionID)

	logger.Debug("turn done", "outcome", outcome, "elapsed", time.Since(started))
	return err
}

var errSkipped = errors.New("transcript too short")

func (p *Processor) run(
	ctx context.Context,
	sess *session.Session,
	audio []byte,
	emit Emitter,
	logger *log.Logger,
	started time.Time,
) error {
	p.emit(emit, protocol.Status(protocol.StatusProcessing))
	p.metrics.RecordUtterance(len(audio))

	var text string
	err := p.call(ctx, StageTranscribe, func(ctx context.Context) error {
		var err error
		text, err = p.transcriber.Transcribe(ctx, audio)
		return err
	})
	if err != nil {
		return err
	}
	p.touch(sess.ID)

	if sess.Mode == session.Continuous {
		text = strings.TrimSpace(text)
		if len([]rune(text)) < p.minChars {
			logger.Debug("transcript skipped", "text", text)
			return errSkipped
		}
	}
	logger.Info("transcribed", "text", etc.Ellipsize(text, 80))

	p.emit(emit, protocol.Transcription(text))
	sess.Append(session.RoleUser, text)

	var reply strings.Builder
	err = p.call(ctx, StageComplete, func(ctx context.Context) error {
		return p.complete(ctx, sess, emit, &reply)
	})
	if err != nil {
		return err
	}
	p.touch(sess.ID)

	answer := reply.String()
	sess.Append(session.RoleAssistant, answer)
	logger.Info("replied", "chars", len(answer))
	p.archive(sess, text, answer, started)

	if strings.TrimSpace(answer) == "" {
		return nil
	}

	var speech []byte
	err = p.call(ctx, StageSynthesize, func(ctx context.Context) error {
		var err error
		speech, err = p.speech.TextToSpeech(ctx, answer)
		return err
	})
	if err != nil {
		return err
	}
	p.touch(sess.ID)

	p.emit(emit, protocol.AudioResponse(speech))
	return nil
}

func (p *Processor) complete(
	ctx context.Context,
	sess *session.Session,
	emit Emitter,
	reply *strings.Builder,
) error {
	req := &llm.ChatCompletionRequest{
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	for _, t := range sess.Turns() {
		req.WithMessage(string(t.Role), t.Text)
	}

	stream, err := p.model.ChatCompletion(ctx, req)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-stream:
			if !ok {
				// A stream closed by cancellation is not a complete reply.
				return ctx.Err()
			}
			if resp.Err != nil {
				return resp.Err
			}
			if resp.Content == "" {
				continue
			}
			reply.WriteString(resp.Content)
			p.emit(emit, protocol.ResponseChunk(resp.Content))
		}
	}
}

// call bounds a provider call with the provider timeout and wraps its
// failure in a ProviderError.
func (p *Processor) call(
	ctx context.Context,
	stage Stage,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	p.metrics.ObserveProvider(string(stage), time.Since(start), err)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%s timed out after %s", stage, p.timeout)
	}
	p.log.Warn("provider failed", "stage", stage, "error", err)
	return &ProviderError{Stage: stage, Err: err}
}

func (p *Processor) archive(sess *session.Session, user, assistant string, started time.Time) {
	if p.recorder == nil {
		return
	}
	rec := Record{
		SessionID: sess.ID,
		Mode:      sess.Mode,
		User:      user,
		Assistant: assistant,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	// The archive outlives the connection.
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.recorder.RecordTurn(ctx, rec); err != nil {
		p.log.Warn("archive failed", "session", sess.ID, "error", err)
	}
}

func (p *Processor) touch(id string) {
	if err := p.store.Touch(id); err != nil {
		p.log.Debug("touch", "session", id, "error", err)
	}
}

func (p *Processor) emit(emit Emitter, event protocol.Event) {
	if err := emit.Emit(event); err != nil {
		p.log.Debug("emit failed", "type", event.Type, "error", err)
	}
}
