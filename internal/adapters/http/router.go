package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/config"
	"github.com/kirillkom/intake-scheduler/internal/core/domain"
	"github.com/kirillkom/intake-scheduler/internal/core/ports"
	"github.com/kirillkom/intake-scheduler/internal/observability/metrics"
)

const maxRequestBodyBytes = 1 << 20

type Dependencies struct {
	Jobs       ports.JobSubmitter
	Admission  ports.AdmissionChecker
	Dispatcher ports.BatchDispatcher
	Batches    ports.BatchProgressReader
	Entities   ports.EntityGateway
	Events     ports.ExtractionEventPublisher
	Auth       TokenVerifier
	Metrics    *metrics.HTTPServerMetrics
	Logger     *slog.Logger
}

type Router struct {
	cfg        config.Config
	jobs       ports.JobSubmitter
	admission  ports.AdmissionChecker
	dispatcher ports.BatchDispatcher
	batches    ports.BatchProgressReader
	entities   ports.EntityGateway
	events     ports.ExtractionEventPublisher
	auth       TokenVerifier
	metrics    *metrics.HTTPServerMetrics
	logger     *slog.Logger
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:        cfg,
		jobs:       deps.Jobs,
		admission:  deps.Admission,
		dispatcher: deps.Dispatcher,
		batches:    deps.Batches,
		entities:   deps.Entities,
		events:     deps.Events,
		auth:       deps.Auth,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("POST /v1/jobs", rt.createJob)
	mux.HandleFunc("GET /v1/jobs/{id}", rt.getJob)
	mux.HandleFunc("GET /v1/jobs/{id}/events", rt.streamJob)

	mux.HandleFunc("POST /v1/dispatch", rt.dispatchBatch)
	mux.HandleFunc("GET /v1/tenants/{id}/rate-limit", rt.checkTenantRateLimit)

	mux.HandleFunc("GET /v1/batches/{id}", rt.getBatch)
	mux.HandleFunc("GET /v1/batches/{id}/events", rt.streamBatch)
	mux.HandleFunc("GET /v1/events", rt.streamAllBatches)
	mux.HandleFunc("POST /v1/extraction-events", rt.receiveExtractionEvent)

	mux.HandleFunc("POST /v1/entities/{kind}", rt.insertEntity)
	mux.HandleFunc("PATCH /v1/entities/{kind}/{id}", rt.updateEntity)
	mux.HandleFunc("DELETE /v1/entities/{kind}/{id}", rt.deleteEntity)

	var handler http.Handler = mux
	handler = authMiddleware(rt.auth, handler)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, 250*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireCaller answers 401 and returns false when no caller is attached.
func requireCaller(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := domain.CallerFromContext(r.Context()); ok {
		return true
	}
	writeError(w, domain.WrapError(domain.ErrUnauthorized, "authorize request", errors.New("valid bearer token required")))
	return false
}

// decodeJSONBody decodes a bounded JSON body. An empty body leaves dst untouched.
func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.WrapError(domain.ErrInvalidInput, "decode request", errors.New("invalid json"))
	}
	return nil
}

func pathID(r *http.Request, name string) (string, error) {
	id := strings.TrimSpace(r.PathValue(name))
	if id == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "read path", errors.New(name+" is required"))
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
