// Package httpapi exposes the tracker over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/presencewatch/internal/domain"
	apimw "github.com/hamed0406/presencewatch/internal/httpapi/middleware"
	"github.com/hamed0406/presencewatch/internal/presence"
	"github.com/hamed0406/presencewatch/internal/tracker"
)

// Registry is the part of tracker.Registry the API drives.
type Registry interface {
	Add(ctx context.Context, spec domain.TargetSpec) (*tracker.Target, error)
	Remove(ctx context.Context, issuerID, trackedID, destination string) error
	List() []tracker.Snapshot
	Issuer(issuerID string) []tracker.Snapshot
	Sync(ctx context.Context) error
}

// Instrumenter serves and records HTTP metrics.
type Instrumenter interface {
	Handler() http.Handler
	InstrumentHandler(next http.Handler) http.Handler
}

type Server struct {
	Logger   *zap.Logger
	Registry Registry
	Accounts presence.Source
	Metrics  Instrumenter // optional
}

func NewServer(l *zap.Logger, reg Registry, accounts presence.Source, m Instrumenter) *Server {
	return &Server{Logger: l, Registry: reg, Accounts: accounts, Metrics: m}
}

// Router builds the HTTP handler. Reads need any API key, writes an admin
// key; each group has its own per-IP rate limit.
func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, publicRPM, publicBurst, adminRPM, adminBurst int) http.Handler {
	r := chi.NewRouter()
	if s.Metrics != nil {
		r.Use(s.Metrics.InstrumentHandler)
	}
	if len(allowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(publicRPM, publicBurst))
			r.Use(apimw.RequireAny(keys))
			r.Get("/targets", s.handleListTargets)
			r.Get("/issuers/{issuer}/targets", s.handleIssuerTargets)
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(adminRPM, adminBurst))
			r.Use(apimw.RequireAdmin(keys))
			r.Post("/targets", s.handleAddTarget)
			r.Delete("/issuers/{issuer}/targets/{tracked}", s.handleRemoveTarget)
			r.Post("/sync", s.handleSync)
		})
	})
	return r
}

type addPayload struct {
	Name           string `json:"name"`
	TrackedID      string `json:"tracked_id"`
	TimeoutMinutes int    `json:"timeout_minutes"`
	IssuerID       string `json:"issuer_id"`
	Destination    string `json:"destination"`
}

type addResponse struct {
	Target    tracker.Snapshot `json:"target"`
	Persisted bool             `json:"persisted"`
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var p addPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	spec := domain.TargetSpec{
		Name:           p.Name,
		TrackedID:      p.TrackedID,
		TimeoutMinutes: p.TimeoutMinutes,
		IssuerID:       p.IssuerID,
		Destination:    p.Destination,
	}
	if err := spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := s.Accounts.FetchAccount(r.Context(), spec.TrackedID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		s.Logger.Warn("add_lookup_error", zap.String("tracked_id", spec.TrackedID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "account lookup failed")
		return
	}
	if spec.Name == "" {
		spec.Name = acct.Tag()
		if spec.Name == "" {
			spec.Name = acct.ID
		}
	}

	t, err := s.Registry.Add(r.Context(), spec)
	switch {
	case errors.Is(err, tracker.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, tracker.ErrPersist):
		writeJSON(w, http.StatusInternalServerError, addResponse{Target: t.Snapshot(), Persisted: false})
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.Logger.Info("api_target_added",
		zap.String("tracked_id", spec.TrackedID),
		zap.String("issuer_id", spec.IssuerID),
		zap.String("name", spec.Name),
	)
	writeJSON(w, http.StatusOK, addResponse{Target: t.Snapshot(), Persisted: true})
}

func (s *Server) handleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	issuer := chi.URLParam(r, "issuer")
	tracked := chi.URLParam(r, "tracked")
	dest := r.URL.Query().Get("destination")

	err := s.Registry.Remove(r.Context(), issuer, tracked, dest)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "target not tracked")
	case errors.Is(err, tracker.ErrPersist):
		writeJSON(w, http.StatusInternalServerError, map[string]bool{"removed": true, "persisted": false})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"removed": true, "persisted": true})
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.Registry.Sync(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"synced": true})
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.Registry.List()))
}

func (s *Server) handleIssuerTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.Registry.Issuer(chi.URLParam(r, "issuer"))))
}

func nonNil(s []tracker.Snapshot) []tracker.Snapshot {
	if s == nil {
		return []tracker.Snapshot{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
