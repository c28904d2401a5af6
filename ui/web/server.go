// Package web serves the browser UI and a small JSON and websocket API on
// top of the session registry.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
	"github.com/tanpawarit/owid-chain/agent/session"
)

const (
	SessionCookie = "owid_session"
	SessionHeader = "X-Session-ID"

	tabChat    = "chat"
	tabHistory = "history"

	// writeMargin leaves room to render and flush a response after the
	// slowest turn the agent can take.
	writeMargin = 15 * time.Second
)

//go:embed templates/*.html
var templateFS embed.FS

type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8501"`
	Title           string        `envconfig:"TITLE" default:"Chat Functions Introduction"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" split_words:"true" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" split_words:"true" default:"180s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"10s"`
}

type Option func(*Server)

// WithGatherer exposes the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithTools lists the available tools in the page's info panel.
func WithTools(descs []contractx.ToolDescriptor) Option {
	return func(s *Server) {
		s.tools = descs
	}
}

// WithTurnBudget declares the longest a single turn can run. The write
// timeout is raised to cover it so a slow answer is not cut off mid-flight.
func WithTurnBudget(d time.Duration) Option {
	return func(s *Server) {
		s.turnBudget = d
	}
}

type Server struct {
	cfg        Config
	turnBudget time.Duration
	registry   *session.Registry
	tools      []contractx.ToolDescriptor
	gatherer   prometheus.Gatherer
	tmpl       *template.Template
	router     *mux.Router
	upgrader   websocket.Upgrader
}

func NewServer(cfg Config, registry *session.Registry, opts ...Option) (*Server, error) {
	if registry == nil {
		return nil, errors.New("web: session registry is required")
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("web: parse templates: %w", err)
	}
	if cfg.Title == "" {
		cfg.Title = "Chat Functions Introduction"
	}

	s := &Server{
		cfg:      cfg,
		registry: registry,
		tmpl:     tmpl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if need := s.turnBudget + writeMargin; s.turnBudget > 0 && s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < need {
		log.Warn().
			Dur("configured", s.cfg.WriteTimeout).
			Dur("turn_budget", s.turnBudget).
			Dur("write_timeout", need).
			Msg("web: raising write timeout to cover the longest turn")
		s.cfg.WriteTimeout = need
	}

	s.router = mux.NewRouter()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(logRequests)

	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/ask", s.handleAskForm).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ask", s.handleAskJSON).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("web: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	log.Info().Msg("web: stopped")
	return nil
}

/* --- pages --- */

type exchangeView struct {
	Query   string
	At      string
	Raw     string
	Widgets []Widget
}

type pageData struct {
	Title     string
	SessionID string
	Tab       string
	Tools     []contractx.ToolDescriptor
	Current   *exchangeView
	History   []exchangeView
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	tab := r.URL.Query().Get("tab")
	if tab != tabHistory {
		tab = tabChat
	}
	s.renderPage(w, sess, tab, nil)
}

func (s *Server) handleAskForm(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	var current *exchangeView
	if question := strings.TrimSpace(r.FormValue("question")); question != "" {
		env := sess.Ask(r.Context(), question)
		view := newExchangeView(contractx.Exchange{Query: question, Envelope: env, At: time.Now()})
		current = &view
	}
	s.renderPage(w, sess, tabChat, current)
}

func (s *Server) renderPage(w http.ResponseWriter, sess *session.Session, tab string, current *exchangeView) {
	data := pageData{
		Title:     s.cfg.Title,
		SessionID: sess.ID,
		Tab:       tab,
		Tools:     s.tools,
		Current:   current,
	}
	if tab == tabHistory {
		for _, ex := range sess.History() {
			data.History = append(data.History, newExchangeView(ex))
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index", data); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("web: render page")
	}
}

func newExchangeView(ex contractx.Exchange) exchangeView {
	return exchangeView{
		Query:   ex.Query,
		At:      ex.At.Format(time.RFC3339),
		Raw:     envelopex.EncodeString(ex.Envelope),
		Widgets: Widgets(ex.Envelope),
	}
}

/* --- api --- */

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	SessionID string          `json:"session_id"`
	Query     string          `json:"query"`
	Response  json.RawMessage `json:"response"`
	HTML      string          `json:"html,omitempty"`
}

type historyEntry struct {
	Query    string          `json:"query"`
	At       time.Time       `json:"at"`
	Response json.RawMessage `json:"response"`
}

func (s *Server) handleAskJSON(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	env := sess.Ask(r.Context(), req.Question)
	writeJSON(w, http.StatusOK, askResponse{
		SessionID: sess.ID,
		Query:     req.Question,
		Response:  json.RawMessage(envelopex.EncodeString(env)),
	})
}

// handleHistory only reads existing sessions; it never issues one.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id is required"})
		return
	}
	sess, err := s.registry.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	history := sess.History()
	out := make([]historyEntry, 0, len(history))
	for _, ex := range history {
		out = append(out, historyEntry{
			Query:    ex.Query,
			At:       ex.At,
			Response: json.RawMessage(envelopex.EncodeString(ex.Envelope)),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleChat runs one turn per websocket message. Turns on a connection are
// sequential; a failed turn is reported and the connection stays open.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("web: upgrade websocket")
		return
	}
	defer ws.Close()

	for {
		var req askRequest
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("session_id", sess.ID).Msg("web: websocket read")
			}
			return
		}

		env := sess.Ask(r.Context(), req.Question)
		var fragment strings.Builder
		if err := s.Presenter(&fragment).Render(req.Question, env); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("web: render fragment")
		}
		if err := ws.WriteJSON(askResponse{
			SessionID: sess.ID,
			Query:     req.Question,
			Response:  json.RawMessage(envelopex.EncodeString(env)),
			HTML:      fragment.String(),
		}); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("web: websocket write")
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"sessions": s.registry.Len(),
	})
}

/* --- helpers --- */

// session resolves the caller's session from the header or cookie and
// issues a new one when neither names a live session.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	sess, created, err := s.registry.GetOrCreate(sessionID(r))
	if err != nil {
		return nil, err
	}
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.Header().Set(SessionHeader, sess.ID)
	return sess, nil
}

func sessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("web: encode response")
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(started)).
			Msg("web: request")
	})
}
