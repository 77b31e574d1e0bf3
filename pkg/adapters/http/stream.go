package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// StreamManager fans conversation events out to SSE subscribers. It
// implements ports.EventPublisher.
type StreamManager struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[chan []byte]struct{}
}

// NewStreamManager creates an empty manager. A nil logger discards logs.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		logger:      logger,
		subscribers: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe registers a buffered channel for senderID. The returned func
// unregisters and closes it.
func (sm *StreamManager) Subscribe(senderID string) (<-chan []byte, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan []byte, 16)
	if _, ok := sm.subscribers[senderID]; !ok {
		sm.subscribers[senderID] = make(map[chan []byte]struct{})
	}
	sm.subscribers[senderID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			subs := sm.subscribers[senderID]
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, senderID)
			}
		})
	}
}

// Publish sends each event to the subscribers of senderID. Slow
// subscribers miss events rather than block the conversation.
func (sm *StreamManager) Publish(_ context.Context, senderID string, events []domain.Event) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	subs := sm.subscribers[senderID]
	if len(subs) == 0 {
		return nil
	}
	for _, e := range events {
		data, err := domain.MarshalEvent(e)
		if err != nil {
			return err
		}
		for ch := range subs {
			select {
			case ch <- data:
			default:
				sm.logger.Warn("SSE client buffer full, dropping event", "sender_id", senderID, "event", e.Type())
			}
		}
	}
	return nil
}

func sseHeaders(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprint(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	return flusher, true
}

func (s *Server) streamConversation(w http.ResponseWriter, r *http.Request) {
	senderID := chi.URLParam(r, "sender_id")
	ch, cancel := s.Streams.Subscribe(senderID)
	defer cancel()

	flusher, ok := sseHeaders(w)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	s.logger.Info("SSE subscriber connected", "sender_id", senderID)

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) streamReloads(w http.ResponseWriter, r *http.Request) {
	changes, err := s.Agent.Watch(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusNotImplemented, errorBody{Error: err.Error(), Code: http.StatusNotImplemented})
		return
	}
	flusher, ok := sseHeaders(w)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			fmt.Fprint(w, "event: reload\ndata: project changed\n\n")
			flusher.Flush()
		}
	}
}
