// Package gateway serves the browser-facing websocket endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"node.town/voxrelay/call"
	"node.town/voxrelay/db"
	"node.town/voxrelay/metrics"
	"node.town/voxrelay/session"
	"node.town/voxrelay/turn"
)

const (
	DefaultWriteTimeout    = 5 * time.Second
	DefaultPingInterval    = 20 * time.Second
	DefaultMaxMessageBytes = 8 << 20
	DefaultOutboundBuffer  = 64
)

// TurnRunner runs one turn for a session's utterance.
type TurnRunner interface {
	Run(ctx context.Context, sessionID string, audio []byte, emit turn.Emitter) error
}

// History is the read side of the transcript archive.
type History interface {
	ListConversations(ctx context.Context, limit int) ([]db.ConversationSummary, error)
	ListTurns(ctx context.Context, conversationID string) ([]db.Turn, error)
}

type Options struct {
	// BaseContext parents every connection context. Cancelling it closes
	// all connections and their in-flight turns.
	BaseContext context.Context

	Store   *session.Store
	Turns   TurnRunner
	History History
	Metrics *metrics.Metrics
	Logger  *log.Logger

	QuietPeriod     time.Duration
	Clock           call.Clock
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	OutboundBuffer  int
}

type Server struct {
	opts     Options
	log      *log.Logger
	upgrader websocket.Upgrader
}

func NewServer(opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = DefaultOutboundBuffer
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	return &Server{
		opts: opts,
		log:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	r.Get("/ws", s.handleSocket(session.OneShot))
	r.Get("/continuous-ws", s.handleSocket(session.Continuous))

	if s.opts.History != nil {
		r.Get("/conversations", s.handleConversations)
		r.Get("/conversations/{sessionID}", s.handleConversation)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.opts.Store.Len(),
	})
}

func (s *Server) handleSocket(mode session.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("upgrade failed", "error", err)
			return
		}
		s.opts.Metrics.RecordConnection()

		c := newConn(s, ws, mode, middleware.GetReqID(r.Context()))
		c.serve()
	}
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	convs, err := s.opts.History.ListConversations(r.Context(), limit)
	if err != nil {
		s.log.Error("failed to list conversations", "error", err.Error())
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	type item struct {
		ID         string    `json:"id"`
		Mode       string    `json:"mode"`
		StartedAt  time.Time `json:"startedAt"`
		LastTurnAt time.Time `json:"lastTurnAt"`
		Turns      int64     `json:"turns"`
	}
	out := make([]item, 0, len(convs))
	for _, c := range convs {
		out = append(out, item{c.ID, c.Mode, c.StartedAt, c.LastTurnAt, c.TurnCount})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	turns, err := s.opts.History.ListTurns(r.Context(), id)
	if err != nil {
		s.log.Error("failed to list turns", "session", id, "error", err.Error())
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if len(turns) == 0 {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	type item struct {
		Role      string    `json:"role"`
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"createdAt"`
	}
	out := make([]item, 0, len(turns))
	for _, t := range turns {
		out = append(out, item{t.Role, t.Content, t.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": id, "turns": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
