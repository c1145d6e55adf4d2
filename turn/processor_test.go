package turn

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"node.town/voxrelay/llm"
	"node.town/voxrelay/protocol"
	"node.town/voxrelay/session"
)

type MockTranscriber struct {
	Text  string
	Err   error
	Block bool
	Got   []byte
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	m.Got = audio
	if m.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return m.Text, m.Err
}

type MockLanguageModel struct {
	Chunks    []string
	Err       error
	StreamErr error
	Calls     int
	Requests  []*llm.ChatCompletionRequest
}

func (m *MockLanguageModel) ChatCompletion(
	ctx context.Context,
	req *llm.ChatCompletionRequest,
) (<-chan *llm.ChatCompletionResponse, error) {
	m.Calls++
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	ch := make(chan *llm.ChatCompletionResponse, len(m.Chunks)+1)
	for _, c := range m.Chunks {
		ch <- &llm.ChatCompletionResponse{Content: c}
	}
	if m.StreamErr != nil {
		ch <- &llm.ChatCompletionResponse{Err: m.StreamErr}
	}
	close(ch)
	return ch, nil
}

type MockSpeechGenerator struct {
	Audio []byte
	Err   error
	Text  string
	Calls int
}

func (m *MockSpeechGenerator) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	m.Calls++
	m.Text = text
	return m.Audio, m.Err
}

type MockRecorder struct {
	mu      sync.Mutex
	Records []Record
}

func (m *MockRecorder) RecordTurn(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, rec)
	return nil
}

type collector struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (c *collector) Emit(e protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

// kinds renders the events as "type" or "type:detail" for comparison.
func (c *collector) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		switch e.Type {
		case protocol.TypeStatus:
			out = append(out, "status:"+e.Status)
		case protocol.TypeTranscription, protocol.TypeResponseChunk:
			out = append(out, e.Type+":"+e.Text)
		case protocol.TypeError:
			out = append(out, "error:"+e.Message)
		default:
			out = append(out, e.Type)
		}
	}
	return out
}

type fixture struct {
	store    *session.Store
	stt      *MockTranscriber
	model    *MockLanguageModel
	speech   *MockSpeechGenerator
	recorder *MockRecorder
	proc     *Processor
}

func newFixture(timeout time.Duration) *fixture {
	f := &fixture{
		store:    session.NewStore(session.Options{SystemPrompt: "be brief", Logger: log.New(io.Discard)}),
		stt:      &MockTranscriber{Text: "Hello"},
		model:    &MockLanguageModel{Chunks: []string{"Hi", " there"}},
		speech:   &MockSpeechGenerator{Audio: []byte{1, 2, 3}},
		recorder: &MockRecorder{},
	}
	f.proc = NewProcessor(Options{
		Store:           f.store,
		Transcriber:     f.stt,
		Model:           f.model,
		Speech:          f.speech,
		Recorder:        f.recorder,
		Logger:          log.New(io.Discard),
		ProviderTimeout: timeout,
	})
	return f
}

func equal(a, b []string) bool {
	return strings.Join(a, "\n") == strings.Join(b, "\n")
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(0)
	id := f.store.Create(session.Continuous)
	out := &collector{}

	if err := f.proc.Run(context.Background(), id, []byte("AB"), out); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	want := []string{
		"status:processing",
		"transcription:Hello",
		"response_chunk:Hi",
		"response_chunk: there",
		"audio_response",
		"status:ready",
	}
	if got := out.kinds(); !equal(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}

	sess, _ := f.store.Get(id)
	turns := sess.Turns()
	if len(turns) != 3 ||
		turns[1] != (session.TurnRecord{Role: session.RoleUser, Text: "Hello"}) ||
		turns[2] != (session.TurnRecord{Role: session.RoleAssistant, Text: "Hi there"}) {
		t.Errorf("turns = %+v", turns)
	}

	req := f.model.Requests[0]
	if len(req.Messages) != 2 || req.Messages[0].Role != llm.RoleSystem || req.Messages[1].Content != "Hello" {
		t.Errorf("model saw %+v, want system preamble then the transcript", req.Messages)
	}
	if f.speech.Text != "Hi there" {
		t.Errorf("synthesized %q, want the full reply", f.speech.Text)
	}
	if len(f.recorder.Records) != 1 || f.recorder.Records[0].Assistant != "Hi there" {
		t.Errorf("archived %+v", f.recorder.Records)
	}
	if string(f.stt.Got) != "AB" {
		t.Errorf("transcriber got %q", f.stt.Got)
	}
}

func TestShortTranscriptSkipsContinuousTurn(t *testing.T) {
	for _, text := range []string{"", "  ", "a", " a "} {
		f := newFixture(0)
		f.stt.Text = text
		id := f.store.Create(session.Continuous)
		out := &collector{}

		if err := f.proc.Run(context.Background(), id, []byte("x"), out); err != nil {
			t.Fatalf("Run(%q) returned error: %v", text, err)
		}

		want := []string{"status:processing", "status:ready"}
		if got := out.kinds(); !equal(got, want) {
			t.Errorf("Run(%q) events = %q, want %q", text, got, want)
		}
		if f.model.Calls != 0 {
			t.Errorf("Run(%q) called the model", text)
		}
		sess, _ := f.store.Get(id)
		if len(sess.Turns()) != 1 {
			t.Errorf("Run(%q) appended records: %+v", text, sess.Turns())
		}
	}
}

func TestOneShotSkipsLengthFilter(t *testing.T) {
	f := newFixture(0)
	f.stt.Text = "a"
	id := f.store.Create(session.OneShot)
	out := &collector{}

	if err := f.proc.Run(context.Background(), id, []byte("x"), out); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if f.model.Calls != 1 {
		t.Errorf("model calls = %d, want 1", f.model.Calls)
	}
	if got := out.kinds(); len(got) < 2 || got[1] != "transcription:a" {
		t.Errorf("events = %q", got)
	}
}

func TestOneShotKeepsTranscriptVerbatim(t *testing.T) {
	f := newFixture(0)
	f.stt.Text = "  "
	id := f.store.Create(session.OneShot)
	out := &collector{}

	if err := f.proc.Run(context.Background(), id, []byte("x"), out); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if got := out.kinds(); len(got) < 2 || got[1] != "transcription:  " {
		t.Errorf("events = %q, want the untrimmed transcript", got)
	}
	sess, _ := f.store.Get(id)
	turns := sess.Turns()
	if len(turns) < 2 || turns[1].Text != "  " {
		t.Errorf("user record = %+v, want the untrimmed transcript", turns)
	}
}

func TestCompletionFailure(t *testing.T) {
	f := newFixture(0)
	f.model.Err = errors.New("model overloaded")
	id := f.store.Create(session.Continuous)
	out := &collector{}

	err := f.proc.Run(context.Background(), id, []byte("x"), out)

	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Stage != StageComplete {
		t.Fatalf("Run() error = %v, want a completion ProviderError", err)
	}
	want := []string{
		"status:processing",
		"transcription:Hello",
		"error:model overloaded",
		"status:ready",
	}
	if got := out.kinds(); !equal(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
	if f.speech.Calls != 0 {
		t.Error("synthesis ran after a failed completion")
	}

	// The user record stays and the session is usable for the next turn.
	f.model.Err = nil
	out = &collector{}
	if err := f.proc.Run(context.Background(), id, []byte("y"), out); err != nil {
		t.Fatalf("second Run() returned error: %v", err)
	}
	sess, _ := f.store.Get(id)
	if n := len(sess.Turns()); n != 4 {
		t.Errorf("history has %d records, want 4", n)
	}
}

func TestMidStreamFailureKeepsEmittedChunks(t *testing.T) {
	f := newFixture(0)
	f.model.Chunks = []string{"Hi"}
	f.model.StreamErr = errors.New("stream reset")
	id := f.store.Create(session.OneShot)
	out := &collector{}

	f.proc.Run(context.Background(), id, []byte("x"), out)

	want := []string{
		"status:processing",
		"transcription:Hello",
		"response_chunk:Hi",
		"error:stream reset",
		"status:ready",
	}
	if got := out.kinds(); !equal(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestProviderTimeout(t *testing.T) {
	f := newFixture(20 * time.Millisecond)
	f.stt.Block = true
	id := f.store.Create(session.Continuous)
	out := &collector{}

	err := f.proc.Run(context.Background(), id, []byte("x"), out)

	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Stage != StageTranscribe {
		t.Fatalf("Run() error = %v, want a transcription ProviderError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) && !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Run() error = %v, want a timeout", err)
	}
	got := out.kinds()
	if len(got) != 3 || !strings.HasPrefix(got[1], "error:") || got[2] != "status:ready" {
		t.Errorf("events = %q", got)
	}
}

func TestBlankReplySkipsSynthesis(t *testing.T) {
	f := newFixture(0)
	f.model.Chunks = nil
	id := f.store.Create(session.OneShot)
	out := &collector{}

	if err := f.proc.Run(context.Background(), id, []byte("x"), out); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if f.speech.Calls != 0 {
		t.Error("synthesized an empty reply")
	}
	want := []string{"status:processing", "transcription:Hello", "status:ready"}
	if got := out.kinds(); !equal(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(0)
	out := &collector{}

	err := f.proc.Run(context.Background(), "nope", []byte("x"), out)
	if !errors.Is(err, session.ErrInvalidSession) {
		t.Fatalf("Run() error = %v, want ErrInvalidSession", err)
	}
	want := []string{"error:invalid session ID", "status:ready"}
	if got := out.kinds(); !equal(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
	if f.stt.Got != nil {
		t.Error("transcribed audio for an unknown session")
	}
}
