package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"telemirror/internal/constants"
	"telemirror/internal/database"
	apperrors "telemirror/internal/errors"
	"telemirror/internal/features"
	"telemirror/internal/middleware"
	"telemirror/internal/models"
	"telemirror/internal/service"
	"telemirror/internal/validation"
	"telemirror/pkg/notify"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router    *mux.Router
	logger    *logrus.Logger
	cfg       *models.Config
	crawler   *service.CrawlerService
	db        *database.Database
	eventFeed *notify.Listener
	server    *http.Server

	subMu       sync.Mutex
	subscribers map[chan notify.Envelope]struct{}
}

func NewServer(cfg *models.Config, crawler *service.CrawlerService, db *database.Database, eventFeed *notify.Listener, logger *logrus.Logger) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		logger:      logger,
		cfg:         cfg,
		crawler:     crawler,
		db:          db,
		eventFeed:   eventFeed,
		subscribers: make(map[chan notify.Envelope]struct{}),
	}

	s.setupRoutes()
	if eventFeed != nil {
		go s.fanOutEvents()
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus()).Methods(http.MethodGet)
	api.HandleFunc("/crawl-status", s.handleListCrawlStatuses()).Methods(http.MethodGet)
	api.HandleFunc("/crawl-status/{sourceID}", s.handleGetCrawlStatus()).Methods(http.MethodGet)
	api.HandleFunc("/dead-letters", s.handleListDeadLetters()).Methods(http.MethodGet)

	// Mutating endpoints require the admin token.
	api.Handle("/sources/{sourceID}/backfill", requireAdminToken(s.handleForceBackfill())).Methods(http.MethodPost)
	api.Handle("/restart", requireAdminToken(s.handleRestart())).Methods(http.MethodPost)
	if features.IsEnabled(features.FlagReplayAPI) {
		api.Handle("/dead-letters/{id}/replay", requireAdminToken(s.handleReplay())).Methods(http.MethodPost)
	}

	if s.eventFeed != nil {
		s.router.HandleFunc("/events", s.handleEvents()).Methods(http.MethodGet)
	}
}

func (s *Server) Start() error {
	port := s.cfg.ServerPort
	if port == 0 {
		port = constants.DefaultServerPort
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting admin API on port %d", port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.db.DB().PingContext(ctx); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.crawler.Status())
	}
}

func (s *Server) handleListCrawlStatuses() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := s.db.ListCrawlStatuses(r.Context())
		if err != nil {
			s.writeError(w, apperrors.NewDatabaseError("list crawl statuses", err))
			return
		}
		s.writeJSON(w, http.StatusOK, statuses)
	}
}

func (s *Server) handleGetCrawlStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID, err := sourceIDFromRequest(r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		status, err := s.db.GetCrawlStatus(r.Context(), sourceID)
		if err != nil {
			s.writeError(w, apperrors.NewDatabaseError("get crawl status", err))
			return
		}
		if status == nil {
			s.writeError(w, apperrors.NewNotFoundError("crawl status", sourceID))
			return
		}
		s.writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleListDeadLetters() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := validation.ValidatePagination(
			r.URL.Query().Get("limit"),
			r.URL.Query().Get("offset"),
		)
		if err != nil {
			s.writeError(w, apperrors.NewMalformedPayloadError(err.Error()))
			return
		}

		var resolved *bool
		if raw := r.URL.Query().Get("resolved"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				s.writeError(w, apperrors.NewMalformedPayloadError("resolved must be true or false"))
				return
			}
			resolved = &v
		}

		entries, total, err := s.db.ListDeadLetters(r.Context(), resolved, limit, offset)
		if err != nil {
			s.writeError(w, apperrors.NewDatabaseError("list dead letters", err))
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"entries": entries,
			"total":   total,
			"limit":   limit,
			"offset":  offset,
		})
	}
}

func (s *Server) handleForceBackfill() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID, err := sourceIDFromRequest(r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.logger.WithField("source_id", sourceID).Info("Forced backfill requested")
		go func() {
			if err := s.crawler.ForceBackfill(context.Background(), sourceID); err != nil {
				s.logger.WithError(err).WithField("source_id", sourceID).Error("Forced backfill failed")
			}
		}()
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"source_id": sourceID, "started": true})
	}
}

func (s *Server) handleRestart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.Info("Pipeline restart requested")
		if err := s.crawler.RestartListener(r.Context()); err != nil {
			s.writeError(w, apperrors.NewConnectivityError("pipeline restart failed", err))
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]bool{"restarted": true})
	}
}

func (s *Server) handleReplay() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil || id <= 0 {
			s.writeError(w, apperrors.NewMalformedPayloadError("dead letter id must be a positive integer"))
			return
		}

		if err := s.crawler.Replay(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "replayed": true})
	}
}

// handleEvents streams committed-row notifications as server-sent
// events. Each connected dashboard gets its own buffered channel; slow
// consumers drop events rather than stalling the fan-out.
func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		sub := s.subscribe()
		defer s.unsubscribe(sub)

		keepalive := time.NewTicker(30 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case env, open := <-sub:
				if !open {
					return
				}
				payload, err := json.Marshal(env)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.EventKind, payload)
				flusher.Flush()
			}
		}
	}
}

func (s *Server) subscribe() chan notify.Envelope {
	ch := make(chan notify.Envelope, 64)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan notify.Envelope) {
	s.subMu.Lock()
	delete(s.subscribers, ch)
	s.subMu.Unlock()
}

func (s *Server) fanOutEvents() {
	for env := range s.eventFeed.Events() {
		s.subMu.Lock()
		for ch := range s.subscribers {
			select {
			case ch <- env:
			default:
				// Drop for this subscriber; the dashboard reconciles from
				// the store anyway.
			}
		}
		s.subMu.Unlock()
	}

	s.subMu.Lock()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.subMu.Unlock()
}

func sourceIDFromRequest(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["sourceID"]
	sourceID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.NewMalformedPayloadError("source id must be an integer")
	}
	if err := validation.ValidateSourceID(sourceID); err != nil {
		return 0, apperrors.NewMalformedPayloadError(err.Error())
	}
	return sourceID, nil
}
