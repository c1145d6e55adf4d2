package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
)

func TestWhisperTranscribe(t *testing.T) {
	var gotModel, gotFile string
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotModel = r.FormValue("model")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			gotFile = header.Filename
			gotAudio, _ = io.ReadAll(file)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":"hello there"}`)
	}))
	defer srv.Close()

	config := openai.DefaultConfig("test-key")
	config.BaseURL = srv.URL + "/v1"
	w := NewWhisperTranscriber(openai.NewClientWithConfig(config), "")

	text, err := w.Transcribe(context.Background(), []byte("ABCD"))
	if err != nil {
		t.Fatalf("Transcribe() returned error: %v", err)
	}
	if text != "hello there" {
		t.Errorf("Transcribe() = %q, want %q", text, "hello there")
	}
	if gotModel != "whisper-1" || gotFile != "audio.wav" || string(gotAudio) != "ABCD" {
		t.Errorf("request model=%q file=%q audio=%q", gotModel, gotFile, gotAudio)
	}
}

type deepgramRequest struct {
	model string
	audio []byte
}

func fakeDeepgram(t *testing.T, transcripts ...string) (*httptest.Server, <-chan deepgramRequest) {
	t.Helper()
	received := make(chan deepgramRequest, 1)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"err_code":"INVALID_AUTH","err_msg":"Invalid credentials."}`)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/listen") {
			http.NotFound(w, r)
			return
		}
		audio, _ := io.ReadAll(r.Body)
		received <- deepgramRequest{model: r.URL.Query().Get("model"), audio: audio}

		channels := make([]map[string]any, 0, len(transcripts))
		for _, text := range transcripts {
			channels = append(channels, map[string]any{
				"alternatives": []map[string]any{{"transcript": text, "confidence": 0.9}},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"metadata": map[string]any{"request_id": "req-1"},
			"results":  map[string]any{"channels": channels},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func newTestDeepgram(srv *httptest.Server, token string) *DeepgramTranscriber {
	d := NewDeepgramTranscriber(token, log.New(io.Discard))
	d.Host = srv.Listener.Addr().String()
	d.SkipServerAuth = true
	return d
}

func TestDeepgramTranscribe(t *testing.T) {
	srv, received := fakeDeepgram(t, "hello", "", "there")
	d := newTestDeepgram(srv, "secret")

	audio := make([]byte, 40*1024)
	for i := range audio {
		audio[i] = byte(i)
	}

	text, err := d.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe() returned error: %v", err)
	}
	if text != "hello there" {
		t.Errorf("Transcribe() = %q, want %q", text, "hello there")
	}
	req := <-received
	if req.model != "nova-2" {
		t.Errorf("model = %q, want nova-2", req.model)
	}
	if !bytes.Equal(req.audio, audio) {
		t.Errorf("server received %d bytes, want %d", len(req.audio), len(audio))
	}
}

func TestDeepgramRejectsBadToken(t *testing.T) {
	srv, _ := fakeDeepgram(t)
	d := newTestDeepgram(srv, "wrong")

	text, err := d.Transcribe(context.Background(), []byte("x"))
	if err == nil {
		t.Fatalf("Transcribe() = %q, want an authentication error", text)
	}
	if !strings.Contains(err.Error(), "deepgram transcription failed") {
		t.Errorf("Transcribe() error = %v, want it wrapped", err)
	}
}

func TestGeminiResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("hello "), genai.Blob{MIMEType: "audio/webm"}}}},
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("there")}}},
		},
	}
	if got := responseText(resp); got != "hello there" {
		t.Errorf("responseText() = %q, want %q", got, "hello there")
	}
}
