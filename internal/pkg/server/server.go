package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/cloud"
	"github.com/anicoll/homeconnect-integration/internal/pkg/homeconnect"
	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/anicoll/homeconnect-integration/internal/pkg/notify"
	"github.com/anicoll/homeconnect-integration/internal/pkg/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

var (
	errMissingAPIKey = errors.New("missing api key")
	errInvalidAPIKey = errors.New("invalid api key")
	errNoHistory     = errors.New("history store not configured")
)

type syncClient interface {
	State() reconcile.State
	GetAppliance(id string) (model.Appliance, bool)
	ListAppliances() []model.Appliance
	SubscribeFilter(f notify.Filter, cb func(model.Change)) notify.Handle
	Unsubscribe(h notify.Handle) bool
	Resync(ctx context.Context) error
	SetSetting(ctx context.Context, applianceID, key string, value model.Value) error
	SelectProgram(ctx context.Context, applianceID, program string, options ...model.Option) error
	StartProgram(ctx context.Context, applianceID, program string, options ...model.Option) error
	StopProgram(ctx context.Context, applianceID string) error
}

type historyStore interface {
	GetProperties(ctx context.Context, identifier, slug string, from, to *time.Time) (model.Properties, error)
}

type server struct {
	client  syncClient
	history historyStore
	logger  *zap.Logger
}

// New returns the HTTP API. history may be nil when no database is
// configured.
func New(client syncClient, history historyStore) *server {
	return &server{client: client, history: history, logger: zap.L()}
}

// Handler builds the router. Every /api route requires a key matching
// apiKeyHash.
func (s *server) Handler(apiKeyHash string) (http.Handler, error) {
	router, err := loadRouter()
	if err != nil {
		return nil, err
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware)

	r.Get("/healthz", s.Health)
	r.Route("/api", func(api chi.Router) {
		api.Use(APIKeyMiddleware(apiKeyHash))
		api.Get("/events", s.Events)
		api.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(20 * time.Second))
			api.Use(ValidationMiddleware(router))
			api.Get("/appliances", s.ListAppliances)
			api.Get("/appliances/{id}", s.GetAppliance)
			api.Put("/appliances/{id}/settings/{key}", s.PutSetting)
			api.Put("/appliances/{id}/programs/selected", s.PutSelectedProgram)
			api.Put("/appliances/{id}/programs/active", s.PutActiveProgram)
			api.Delete("/appliances/{id}/programs/active", s.DeleteActiveProgram)
			api.Post("/resync", s.PostResync)
			api.Get("/history/{identifier}/{slug}", s.GetHistory)
		})
	})
	return r, nil
}

type healthResponse struct {
	State      string `json:"state"`
	Appliances int    `json:"appliances"`
}

// Health answers 200 while the sync engine is live and 503 otherwise.
func (s *server) Health(w http.ResponseWriter, r *http.Request) {
	state := s.client.State()
	status := http.StatusOK
	if state != reconcile.StateLive {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{State: state.String(), Appliances: len(s.client.ListAppliances())})
}

func (s *server) ListAppliances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.client.ListAppliances())
}

func (s *server) GetAppliance(w http.ResponseWriter, r *http.Request) {
	a, ok := s.client.GetAppliance(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, homeconnect.ErrUnknownAppliance)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type setValuePayload struct {
	Value model.Value `json:"value"`
}

type programPayload struct {
	Key     string         `json:"key"`
	Options []model.Option `json:"options"`
}

func (s *server) PutSetting(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[setValuePayload](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, key := chi.URLParam(r, "id"), chi.URLParam(r, "key")
	if err := s.client.SetSetting(r.Context(), id, key, req.Value); err != nil {
		s.handleError(w, err)
		return
	}
	s.logger.Info("setting changed", zap.String("appliance", id), zap.String("key", key), zap.Stringer("value", req.Value))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) PutSelectedProgram(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[programPayload](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.client.SelectProgram(r.Context(), id, req.Key, req.Options...); err != nil {
		s.handleError(w, err)
		return
	}
	s.logger.Info("program selected", zap.String("appliance", id), zap.String("program", req.Key))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) PutActiveProgram(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[programPayload](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.client.StartProgram(r.Context(), id, req.Key, req.Options...); err != nil {
		s.handleError(w, err)
		return
	}
	s.logger.Info("program started", zap.String("appliance", id), zap.String("program", req.Key))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) DeleteActiveProgram(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.client.StopProgram(r.Context(), id); err != nil {
		s.handleError(w, err)
		return
	}
	s.logger.Info("program stopped", zap.String("appliance", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) PostResync(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Resync(r.Context()); err != nil {
		s.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) GetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, errNoHistory)
		return
	}
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	props, err := s.history.GetProperties(r.Context(), chi.URLParam(r, "identifier"), chi.URLParam(r, "slug"), from, to)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *server) handleError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, homeconnect.ErrUnknownAppliance):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConstraintViolation), errors.Is(err, homeconnect.ErrUnknownProgram):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cloud.ErrDeviceOffline):
		return http.StatusConflict
	case errors.Is(err, homeconnect.ErrCommandsUnsupported), errors.Is(err, cloud.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, reconcile.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var apiErr *cloud.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func unmarshalPayload[T any](r *http.Request) (*T, error) {
	var out T
	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
