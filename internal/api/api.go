// Package api provides HTTP handlers and the main server for the widget
// service. It is the embedding shim: pages talk to these endpoints, and each
// open widget is backed by an orchestration engine instance held in memory.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/embedbot/widgetcore/internal/backend"
	"github.com/embedbot/widgetcore/internal/flow"
	"github.com/embedbot/widgetcore/internal/session"
	"github.com/embedbot/widgetcore/internal/store"
)

// DefaultAddr is the default API server listen address.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	ChatAPIBaseURL string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithChatAPIBaseURL sets the default backend base URL used when the embed
// does not supply its own.
func WithChatAPIBaseURL(u string) Option {
	return func(o *Opts) {
		o.ChatAPIBaseURL = u
	}
}

// widgetInstance is one mounted widget: its engine plus the identity needed
// to persist its transcript on close.
type widgetInstance struct {
	engine    *flow.Engine
	chatbotID string
	sessionID string
}

// Server hosts the widget endpoints.
type Server struct {
	addr           string
	chatAPIBaseURL string
	st             store.Store
	sessions       *session.Manager

	mu      sync.Mutex
	widgets map[string]*widgetInstance

	// newBackend is swappable in tests.
	newBackend func(baseURL string) backendClient
}

// NewServer creates an API server over the given store.
func NewServer(st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	return &Server{
		addr:           cfg.Addr,
		chatAPIBaseURL: cfg.ChatAPIBaseURL,
		st:             st,
		sessions:       session.NewManager(st),
		widgets:        make(map[string]*widgetInstance),
		newBackend: func(baseURL string) backendClient {
			return backend.NewClient(baseURL)
		},
	}
}

// Handler returns the server's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/widget/open", s.openWidgetHandler)
	mux.HandleFunc("/api/widget/send", s.sendMessageHandler)
	mux.HandleFunc("/api/widget/option", s.clickOptionHandler)
	mux.HandleFunc("/api/widget/lead", s.submitLeadHandler)
	mux.HandleFunc("/api/widget/suggestions/dismiss", s.dismissSuggestionsHandler)
	mux.HandleFunc("/api/widget/state", s.widgetStateHandler)
	mux.HandleFunc("/api/widget/close", s.closeWidgetHandler)
	return mux
}

// Run serves the API over an already-constructed store until the listener
// fails. The caller keeps ownership of the store's lifecycle.
func Run(st store.Store, opts ...Option) error {
	srv := NewServer(st, opts...)
	slog.Info("Widget API running", "addr", srv.addr)
	if err := http.ListenAndServe(srv.addr, srv.Handler()); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
