package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dreamware/slotmesh/internal/coordinator"
	"github.com/dreamware/slotmesh/internal/eventlog"
)

// Jackpot is the read side of the coordinator hub.
type Jackpot interface {
	Snapshot() coordinator.Snapshot
}

// Instances is the process control surface of the supervisor.
type Instances interface {
	Spawn(ctx context.Context) (coordinator.TrackedProcess, error)
	Remove(instanceID string) error
	RemoveLast() (string, error)
	List() []coordinator.TrackedProcess
}

// History is the part of eventlog.Store the API reads.
type History interface {
	List(instanceID string, limit int) ([]eventlog.Entry, error)
	Delete(instanceID string) error
	Stats() eventlog.StoreStats
}

// Health reports per-instance liveness.
type Health interface {
	GetAllInstanceHealth() map[string]*coordinator.InstanceHealth
}

// API serves the loopback admin surface.
type API struct {
	jackpot   Jackpot
	instances Instances
	history   History
	health    Health
	stream    *Stream
	logger    *slog.Logger
	started   time.Time
}

// NewAPI wires the admin handlers. stream may be nil, in which case
// /events is not mounted.
func NewAPI(jackpot Jackpot, instances Instances, history History, stream *Stream, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		jackpot:   jackpot,
		instances: instances,
		history:   history,
		stream:    stream,
		logger:    logger.With("component", "admin"),
		started:   time.Now(),
	}
}

// SetHealth adds liveness records to GET /instances.
func (a *API) SetHealth(h Health) {
	a.health = h
}

// InstancesView is the GET /instances payload.
type InstancesView struct {
	Processes []coordinator.TrackedProcess           `json:"processes"`
	Clients   []coordinator.ClientInfo               `json:"clients"`
	Health    map[string]*coordinator.InstanceHealth `json:"health,omitempty"`
}

// HealthView is the GET /health payload.
type HealthView struct {
	Status    string              `json:"status"`
	Uptime    string              `json:"uptime"`
	Processes int                 `json:"processes"`
	Clients   int                 `json:"clients"`
	History   eventlog.StoreStats `json:"history"`
}

// Router builds the chi router with permissive CORS so a local dashboard
// served from another port can call it.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           60 * 15,
	}))

	r.Get("/health", a.handleHealth)
	r.Get("/jackpot", a.handleJackpot)
	r.Route("/instances", func(r chi.Router) {
		r.Get("/", a.handleListInstances)
		r.Post("/", a.handleSpawn)
		r.Delete("/", a.handleRemoveLast)
		r.Delete("/{id}", a.handleRemove)
		r.Get("/{id}/logs", a.handleLogs)
		r.Delete("/{id}/logs", a.handleDeleteLogs)
	})
	if a.stream != nil {
		r.Get("/events", a.handleEvents)
	}
	return r
}

// Serve runs the admin HTTP server on ln until ctx is cancelled.
func (a *API) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if a.stream != nil {
		a.stream.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	return nil
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := a.jackpot.Snapshot()
	writeJSON(w, http.StatusOK, HealthView{
		Status:    "ok",
		Uptime:    time.Since(a.started).Round(time.Second).String(),
		Processes: len(a.instances.List()),
		Clients:   len(snap.Clients),
		History:   a.history.Stats(),
	})
}

func (a *API) handleJackpot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.jackpot.Snapshot())
}

func (a *API) handleListInstances(w http.ResponseWriter, r *http.Request) {
	view := InstancesView{
		Processes: a.instances.List(),
		Clients:   a.jackpot.Snapshot().Clients,
	}
	if view.Processes == nil {
		view.Processes = []coordinator.TrackedProcess{}
	}
	if view.Clients == nil {
		view.Clients = []coordinator.ClientInfo{}
	}
	if a.health != nil {
		view.Health = a.health.GetAllInstanceHealth()
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSpawn(w http.ResponseWriter, r *http.Request) {
	proc, err := a.instances.Spawn(r.Context())
	switch {
	case errors.Is(err, coordinator.ErrCapacity):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		a.logger.Error("spawn failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, proc)
}

func (a *API) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.instances.Remove(id); err != nil {
		if errors.Is(err, coordinator.ErrNotTracked) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRemoveLast(w http.ResponseWriter, r *http.Request) {
	id, err := a.instances.RemoveLast()
	if err != nil {
		if errors.Is(err, coordinator.ErrNotTracked) {
			http.Error(w, "no running instances", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		InstanceID string `json:"instance_id"`
	}{id})
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := a.history.List(id, limit)
	if err != nil {
		if errors.Is(err, eventlog.ErrInstanceNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleDeleteLogs is idempotent: unknown ids also answer 204.
func (a *API) handleDeleteLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.history.Delete(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.logger.Info("history deleted", "instance_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	counter := a.jackpot.Snapshot().Counter
	a.stream.serve(w, r, &counter)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
