// Package http exposes an agent over a REST API.
//
// Routes are described by the embedded openapi.yaml, which also validates
// incoming requests. New conversation events can be followed with
// server-sent events when the StreamManager is registered as a publisher.
package http

import (
	_ "embed"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/policy"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/processor"
	"github.com/go-chi/chi/v5"
)

//go:embed openapi.yaml
var specYAML []byte

// Agent is the part of a tendril agent the API drives.
type Agent interface {
	HandleMessage(ctx context.Context, msg domain.UserMessage, out ports.OutputChannel) ([]domain.Event, error)
	TriggerIntent(ctx context.Context, senderID, intent string, entities []domain.Entity, out ports.OutputChannel) ([]domain.Event, error)
	ExecuteAction(ctx context.Context, senderID, action string, out ports.OutputChannel) ([]domain.Event, error)
	PredictNext(ctx context.Context, senderID string) (processor.Prediction, error)
	AppendEvents(ctx context.Context, senderID string, events []domain.Event) ([]domain.Event, error)
	Tracker(ctx context.Context, senderID string) (*domain.Tracker, error)
	DeleteTracker(ctx context.Context, senderID string) error
	Conversations(ctx context.Context) ([]string, error)
	Domain() *domain.Domain
	Policies() *policy.Ensemble
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// ChannelName is the input channel recorded for messages from this API.
const ChannelName = "rest"

// Server serves the API for one agent.
type Server struct {
	Agent   Agent
	Streams *StreamManager

	metrics *observability.Metrics
	limit   *rateLimit
	version string
	logger  *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStreams shares a StreamManager, typically the one also given to the
// agent as publisher.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) { s.Streams = sm }
}

// WithMetrics instruments every route and serves GET /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimit allows each client rps requests per second, with bursts.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limit = newRateLimit(rps, burst) }
}

// WithVersion sets the version reported by GET /version.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewHandler builds the router for agent.
func NewHandler(agent Agent, opts ...Option) (http.Handler, error) {
	s := &Server{
		Agent:   agent,
		version: "dev",
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}

	validator, err := newValidator(specYAML)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(cors)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if s.limit != nil {
		r.Use(s.limit.middleware)
	}

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write(specYAML)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(swaggerHTML))
	})

	r.Group(func(r chi.Router) {
		r.Use(validator.middleware(s.logger))

		r.Get("/health", s.getHealth)
		r.Get("/version", s.getVersion)
		r.Get("/domain", s.getDomain)
		r.Get("/model", s.getModel)
		r.Post("/webhooks/rest/webhook", s.postMessage)
		r.Get("/conversations", s.listConversations)
		r.Route("/conversations/{sender_id}", func(r chi.Router) {
			r.Get("/tracker", s.getTracker)
			r.Delete("/tracker", s.deleteTracker)
			r.Post("/tracker/events", s.appendEvents)
			r.Post("/predict", s.predict)
			r.Post("/execute", s.executeAction)
			r.Post("/trigger_intent", s.triggerIntent)
			r.Get("/events/stream", s.streamConversation)
		})
		r.Get("/events", s.streamReloads)
	})
	return r, nil
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <title>Tendril API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => { window.ui = SwaggerUIBundle({ url: '/openapi.yaml', dom_id: '#swagger-ui' }); };
</script>
</body>
</html>
`

type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type messageRequest struct {
	Sender   string         `json:"sender"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type nameRequest struct {
	Name     string         `json:"name"`
	Entities map[string]any `json:"entities,omitempty"`
}

type turnResult struct {
	Tracker  domain.TrackerSnapshot       `json:"tracker"`
	Messages []processor.CollectedMessage `json:"messages"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	s.writeJSON(w, status, errorBody{Error: err.Error(), Code: status})
}

var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	var unknown *domain.UnknownActionError
	var rejection *ports.Rejection
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &unknown), errors.Is(err, domain.ErrConversationNotFound), errors.Is(err, domain.ErrUnknownIntent):
		return http.StatusNotFound
	case errors.As(err, &rejection):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid body: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":     strings.TrimSpace(s.version),
		"api_version": apiVersion(),
	})
}

func (s *Server) getDomain(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Agent.Domain())
}

// getModel exposes what training produced: every policy with its lookups.
func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Agent.Policies())
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var body messageRequest
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	out := processor.NewCollector(ChannelName)
	msg := domain.UserMessage{
		Text:         body.Message,
		SenderID:     body.Sender,
		InputChannel: ChannelName,
		Metadata:     body.Metadata,
	}
	if _, err := s.Agent.HandleMessage(r.Context(), msg, out); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out.Messages())
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Agent.Conversations(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sort.Strings(ids)
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, ids)
}

func (s *Server) getTracker(w http.ResponseWriter, r *http.Request) {
	t, err := s.Agent.Tracker(r.Context(), chi.URLParam(r, "sender_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot(t, r.URL.Query().Get("include_events")))
}

// snapshot honours include_events: ALL (default), AFTER_RESTART or NONE.
func snapshot(t *domain.Tracker, include string) domain.TrackerSnapshot {
	switch strings.ToUpper(include) {
	case "NONE":
		return t.Snapshot(false)
	case "AFTER_RESTART":
		s := t.Snapshot(false)
		s.Events = t.EventsSinceLastRestart()
		return s
	default:
		return t.Snapshot(true)
	}
}

func (s *Server) deleteTracker(w http.ResponseWriter, r *http.Request) {
	if err := s.Agent.DeleteTracker(r.Context(), chi.URLParam(r, "sender_id")); err != nil && !errors.Is(err, domain.ErrConversationNotFound) {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) appendEvents(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decode(r, &raw); err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := parseEvents(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	senderID := chi.URLParam(r, "sender_id")
	if _, err := s.Agent.AppendEvents(r.Context(), senderID, events); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.Agent.Tracker(r.Context(), senderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t.Snapshot(true))
}

// parseEvents accepts a single event object or an array of them.
func parseEvents(raw json.RawMessage) ([]domain.Event, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var events domain.Events
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return events, nil
	}
	e, err := domain.UnmarshalEvent(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return []domain.Event{e}, nil
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	pred, err := s.Agent.PredictNext(r.Context(), chi.URLParam(r, "sender_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pred)
}

func (s *Server) executeAction(w http.ResponseWriter, r *http.Request) {
	var body nameRequest
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	senderID := chi.URLParam(r, "sender_id")
	out := processor.NewCollector(ChannelName)
	if _, err := s.Agent.ExecuteAction(r.Context(), senderID, body.Name, out); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTurn(w, r, senderID, out)
}

func (s *Server) triggerIntent(w http.ResponseWriter, r *http.Request) {
	var body nameRequest
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	senderID := chi.URLParam(r, "sender_id")
	out := processor.NewCollector(ChannelName)

	var entities []domain.Entity
	for _, name := range sortedKeys(body.Entities) {
		entities = append(entities, domain.Entity{Entity: name, Value: body.Entities[name]})
	}
	if _, err := s.Agent.TriggerIntent(r.Context(), senderID, body.Name, entities, out); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTurn(w, r, senderID, out)
}

func (s *Server) writeTurn(w http.ResponseWriter, r *http.Request, senderID string, out *processor.Collector) {
	t, err := s.Agent.Tracker(r.Context(), senderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	messages := out.Messages()
	if messages == nil {
		messages = []processor.CollectedMessage{}
	}
	s.writeJSON(w, http.StatusOK, turnResult{Tracker: t.Snapshot(true), Messages: messages})
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
