// Package proxy exposes the dispatcher over HTTP: the client-facing
// configure and transmit routes plus read-only status and journal views.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kilianp07/evproxy/core/logger"
	"github.com/kilianp07/evproxy/core/session"
	"github.com/kilianp07/evproxy/core/telemetry"
	"github.com/kilianp07/evproxy/core/vehiclestatus"
	"github.com/kilianp07/evproxy/infra/codec"
	"github.com/kilianp07/evproxy/infra/journal"
)

// DefaultMaxBodyBytes bounds request bodies when Config leaves it unset.
const DefaultMaxBodyBytes = 1 << 20

const requestIDHeader = "X-Request-ID"

// Dispatcher is the part of the dispatch engine the routes drive.
type Dispatcher interface {
	Configure(ctx context.Context, vehicleID string, raw map[string]map[string]any) (telemetry.FieldSet, error)
	Ingest(ctx context.Context, vehicleID string, batch telemetry.Batch) (telemetry.FieldSet, error)
	Configured(vehicleID string) bool
}

// SessionViewer lists the live sessions.
type SessionViewer interface {
	Snapshot() []session.Info
}

// Config controls the HTTP surface.
type Config struct {
	// Keys are the accepted Authorization header values.
	Keys         []string
	MaxBodyBytes int64
	// MetricsPath serves Prometheus metrics without authentication when set.
	MetricsPath string
}

// Handler serves the proxy routes.
type Handler struct {
	disp     Dispatcher
	codec    *codec.Codec
	keys     map[string]struct{}
	maxBody  int64
	metrics  string
	sessions SessionViewer
	status   vehiclestatus.Store
	journal  journal.Store
	log      logger.Logger
	draining atomic.Bool
}

// Option configures optional Handler collaborators.
type Option func(*Handler)

// WithSessions enables the session part of the status routes.
func WithSessions(s SessionViewer) Option { return func(h *Handler) { h.sessions = s } }

// WithStatus enables the delivery part of the status routes.
func WithStatus(s vehiclestatus.Store) Option { return func(h *Handler) { h.status = s } }

// WithJournal enables GET /journal.
func WithJournal(j journal.Store) Option { return func(h *Handler) { h.journal = j } }

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// New returns a Handler for d using c on the wire.
func New(d Dispatcher, c *codec.Codec, cfg Config, opts ...Option) *Handler {
	h := &Handler{
		disp:    d,
		codec:   c,
		keys:    make(map[string]struct{}, len(cfg.Keys)),
		maxBody: cfg.MaxBodyBytes,
		metrics: cfg.MetricsPath,
		log:     logger.Nop{},
	}
	if h.maxBody <= 0 {
		h.maxBody = DefaultMaxBodyBytes
	}
	for _, k := range cfg.Keys {
		h.keys[k] = struct{}{}
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Drain makes every later request fail with 503.
func (h *Handler) Drain() { h.draining.Store(true) }

// Router builds the chi router serving all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, h.requestID)
	if h.metrics != "" {
		r.Method(http.MethodGet, h.metrics, promhttp.Handler())
	}
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate, h.available)
		r.Post("/setsvcsettings/{vehicleId}", otelhttp.NewHandler(http.HandlerFunc(h.configure), "configure").ServeHTTP)
		r.Post("/transmit/{vehicleId}", otelhttp.NewHandler(http.HandlerFunc(h.transmit), "transmit").ServeHTTP)
		r.Get("/status", h.listStatus)
		r.Get("/status/{vehicleId}", h.vehicleStatus)
		r.Get("/journal", h.queryJournal)
	})
	return r
}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.keys[r.Header.Get("Authorization")]; !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) available(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.draining.Load() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// readBody reads at most maxBody bytes and reports whether the request may
// continue.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "read body", http.StatusBadRequest)
		}
		return nil, false
	}
	return data, true
}

func (h *Handler) configure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "vehicleId")
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}
	raw, err := h.codec.DecodeSettings(data)
	if err != nil {
		h.log.Warnf("%s: bad settings: %v", id, err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	fields, err := h.disp.Configure(r.Context(), id, raw)
	if err != nil {
		h.fail(w, id, err)
		return
	}
	reply, err := h.codec.EncodeFields(fields)
	if err != nil {
		h.log.Errorf("%s: encode reply: %v", id, err)
		http.Error(w, "encode reply", http.StatusInternalServerError)
		return
	}
	h.log.Debugw("configured", map[string]any{"vehicle_id": id, "fields": fields.Len(), "all": fields.All()})
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(reply)
}

func (h *Handler) transmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "vehicleId")
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}
	batch, err := h.codec.DecodeBatch(data)
	if err != nil {
		if !h.disp.Configured(id) {
			h.fail(w, id, session.ErrNotConfigured)
			return
		}
		h.log.Warnf("%s: bad batch: %v", id, err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if _, err := h.disp.Ingest(r.Context(), id, batch); err != nil {
		h.fail(w, id, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) fail(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, session.ErrNotConfigured):
		http.Error(w, "settings required", http.StatusPaymentRequired)
	case errors.Is(err, session.ErrClosed):
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
	default:
		h.log.Errorf("%s: %v", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// vehicleView combines the live session and its delivery history.
type vehicleView struct {
	Session  *session.Info         `json:"session,omitempty"`
	Delivery *vehiclestatus.Status `json:"delivery,omitempty"`
}

func (h *Handler) listStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		http.Error(w, "status disabled", http.StatusNotFound)
		return
	}
	f := vehiclestatus.Filter{
		Sink:   r.URL.Query().Get("sink"),
		Status: r.URL.Query().Get("status"),
	}
	writeJSON(w, h.status.List(f))
}

func (h *Handler) vehicleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "vehicleId")
	var view vehicleView
	if h.sessions != nil {
		for _, info := range h.sessions.Snapshot() {
			if info.Vehicle == id {
				view.Session = &info
				break
			}
		}
	}
	if h.status != nil {
		if st, ok := h.status.Get(id); ok {
			view.Delivery = &st
		}
	}
	if view.Session == nil && view.Delivery == nil {
		http.Error(w, "unknown vehicle", http.StatusNotFound)
		return
	}
	writeJSON(w, view)
}

func (h *Handler) queryJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	q := journal.Query{VehicleID: r.URL.Query().Get("vehicle_id")}
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		q.Since = t
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		q.Limit = n
	}
	records, err := h.journal.Query(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []journal.Record{}
	}
	writeJSON(w, records)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
