// Package server exposes a roomsync store over HTTP and websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vovakirdan/roomsync-go/internal/hub"
	"github.com/vovakirdan/roomsync-go/roomsync"
	"github.com/vovakirdan/roomsync-go/roomsync/rest"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultActiveWindow = 5 * time.Minute
)

// Store is the persistence the server needs.
type Store interface {
	roomsync.Backend
	Room(ctx context.Context, id string) (*roomsync.Room, error)
	UpsertAuthor(ctx context.Context, a roomsync.Author) error
	Touch(ctx context.Context, authorID string, at time.Time) error
}

// Options configures a Server.
type Options struct {
	Store    Store
	Hub      *hub.Hub
	Log      *slog.Logger
	Registry *prometheus.Registry
	// InsecureSkipVerify accepts websocket upgrades from any origin.
	InsecureSkipVerify bool
}

// Server routes the REST API, the websocket endpoint and /metrics.
type Server struct {
	store  Store
	hub    *hub.Hub
	log    *slog.Logger
	opts   Options
	router chi.Router

	sessMu   sync.Mutex
	sessions map[*session]struct{}

	connections prometheus.Gauge
	inserts     prometheus.Counter
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}
	if opts.Hub == nil {
		opts.Hub = hub.New(opts.Log)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(opts.Registry)
	s := &Server{
		store: opts.Store,
		hub:   opts.Hub,
		log:   opts.Log,
		opts:  opts,
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomsync",
			Subsystem: "server",
			Name:      "ws_connections",
			Help:      "Open websocket connections",
		}),
		inserts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomsync",
			Subsystem: "server",
			Name:      "messages_inserted_total",
			Help:      "Messages inserted through the API",
		}),
	}

	s.sessions = make(map[*session]struct{})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", s.listRooms)
		r.Post("/rooms", s.createRoom)
		r.Get("/rooms/{id}/messages", s.recentMessages)
		r.Post("/rooms/{id}/messages", s.postMessage)
		r.Get("/authors", s.activeAuthors)
		r.Get("/authors/{id}", s.getAuthor)
		r.Put("/authors/{id}", s.putAuthor)
	})
	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListRooms(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if rooms == nil {
		rooms = []roomsync.Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req roomsync.NewRoom
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	room, err := s.store.CreateRoom(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) recentMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	rows, err := s.store.RecentMessages(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if rows == nil {
		rows = []roomsync.MessageRow{}
	}
	writeJSON(w, http.StatusOK, rest.MessagesResponse{Messages: rows, HasMore: len(rows) == limit})
}

// postMessage inserts a message and publishes the row on the room's
// messages topic.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	room, err := s.store.Room(r.Context(), roomID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	var req rest.PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	row, err := s.store.InsertMessage(r.Context(), roomsync.NewMessage{RoomID: roomID, AuthorID: req.UserID, Content: req.Content})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.inserts.Inc()

	ev, err := roomsync.NewEvent(roomsync.EventInsert, roomsync.InsertPayload{Record: row})
	if err == nil {
		n := s.hub.Publish(roomsync.Topic{Category: roomsync.CategoryMessages, Room: roomID}, ev)
		s.log.Debug("insert published", "room", roomID, "message", row.ID, "subscribers", n)
	}
	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) activeAuthors(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-defaultActiveWindow)
	if v := r.URL.Query().Get("active_since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active_since")
			return
		}
		since = t
	}
	authors, err := s.store.ActiveAuthors(r.Context(), since)
	if err != nil {
		s.fail(w, err)
		return
	}
	if authors == nil {
		authors = []roomsync.Author{}
	}
	writeJSON(w, http.StatusOK, authors)
}

func (s *Server) getAuthor(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.Author(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "author not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) putAuthor(w http.ResponseWriter, r *http.Request) {
	var a roomsync.Author
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	a.ID = chi.URLParam(r, "id")
	if a.LastSeen.IsZero() {
		a.LastSeen = time.Now().UTC()
	}
	if err := s.store.UpsertAuthor(r.Context(), a); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// fail maps validation errors to 400 and everything else to 500.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var se *roomsync.SyncError
	if errors.As(err, &se) && roomsync.IsValidationError(err) {
		writeError(w, http.StatusBadRequest, se.Error())
		return
	}
	s.log.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, rest.ErrorResponse{Error: msg})
}
