package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cordum/coldgate/core/infra/logging"
	"github.com/cordum/coldgate/core/infra/metrics"
	"github.com/cordum/coldgate/core/retrieval"
)

const (
	defaultRetryAfter     = 60 * time.Second
	defaultMaxUploadBytes = 64 << 20
	shutdownTimeout       = 10 * time.Second

	headerDescription = "X-Archive-Description"
)

// Retriever is the object surface the gateway serves.
type Retriever interface {
	Lookup(ctx context.Context, obj retrieval.ObjectID, opts ...retrieval.LookupOption) (io.ReadCloser, error)
	Delete(ctx context.Context, obj retrieval.ObjectID) error
	Status() retrieval.Status
}

// Uploader stores new archives.
type Uploader interface {
	Upload(ctx context.Context, vault, description string, data []byte) (string, error)
	VaultExists(ctx context.Context, vault string) (bool, error)
}

// BusStatus reports the availability bus connection.
type BusStatus interface {
	IsConnected() bool
	Status() string
	ConnectedURL() string
}

type Options struct {
	Metrics metrics.GatewayMetrics
	// Bus is optional; status reports it as UNKNOWN when unset.
	Bus BusStatus
	// RetryAfter is advertised to clients whose object is still being retrieved.
	RetryAfter     time.Duration
	MaxUploadBytes int64
}

// Server exposes the retrieval orchestrator over HTTP.
type Server struct {
	retriever      Retriever
	uploader       Uploader
	metrics        metrics.GatewayMetrics
	bus            BusStatus
	retryAfter     time.Duration
	maxUploadBytes int64
}

func New(retriever Retriever, uploader Uploader, opts Options) *Server {
	s := &Server{
		retriever:      retriever,
		uploader:       uploader,
		metrics:        opts.Metrics,
		bus:            opts.Bus,
		retryAfter:     opts.RetryAfter,
		maxUploadBytes: opts.MaxUploadBytes,
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	if s.retryAfter <= 0 {
		s.retryAfter = defaultRetryAfter
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}
	return s
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/v1/objects/{vault}/{archive}", s.instrumented("/api/v1/objects/{vault}/{archive}", s.handleGetObject))
	mux.HandleFunc("DELETE /api/v1/objects/{vault}/{archive}", s.instrumented("/api/v1/objects/{vault}/{archive}", s.handleDeleteObject))
	mux.HandleFunc("POST /api/v1/vaults/{vault}/archives", s.instrumented("/api/v1/vaults/{vault}/archives", s.handleUpload))
	mux.HandleFunc("GET /api/v1/status", s.instrumented("/api/v1/status", s.handleStatus))
	return mux
}

// Serve runs the API listener until ctx ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logging.Info("gateway", "http listening", "addr", addr)
	return serve(ctx, srv)
}

// ServeMetrics runs the Prometheus listener until ctx ends.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logging.Info("gateway", "metrics listening", "addr", addr+"/metrics")
	return serve(ctx, srv)
}

func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("gateway", "http server error", "addr", srv.Addr, "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown %s: %w", srv.Addr, err)
	}
	return nil
}

func objectFromPath(r *http.Request) (retrieval.ObjectID, error) {
	obj := retrieval.ObjectID{Vault: r.PathValue("vault"), Archive: r.PathValue("archive")}
	if err := obj.Validate(); err != nil {
		return retrieval.ObjectID{}, err
	}
	return obj, nil
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	obj, err := objectFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var opts []retrieval.LookupOption
	if requester := strings.TrimSpace(r.URL.Query().Get("notify")); requester != "" {
		opts = append(opts, retrieval.WithRequester(requester))
	}
	body, err := s.retriever.Lookup(r.Context(), obj, opts...)
	if err != nil {
		s.writeLookupError(w, obj, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logging.Error("gateway", "stream object failed", "object", obj.String(), "error", err)
	}
}

func (s *Server) writeLookupError(w http.ResponseWriter, obj retrieval.ObjectID, err error) {
	switch {
	case errors.Is(err, retrieval.ErrDeferred):
		w.Header().Set("Retry-After", strconv.Itoa(int(s.retryAfter/time.Second)))
		writeJSON(w, http.StatusAccepted, map[string]any{
			"object": obj,
			"status": "retrieval_pending",
		})
	case errors.Is(err, retrieval.ErrServiceUnavailable):
		http.Error(w, "archive service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, retrieval.ErrInvalidObjectID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, retrieval.ErrNotFound):
		http.Error(w, "object not found", http.StatusNotFound)
	default:
		logging.Error("gateway", "lookup failed", "object", obj.String(), "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	obj, err := objectFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.retriever.Delete(r.Context(), obj); err != nil {
		if errors.Is(err, retrieval.ErrServiceUnavailable) {
			http.Error(w, "archive service unavailable", http.StatusServiceUnavailable)
			return
		}
		logging.Error("gateway", "delete failed", "object", obj.String(), "error", err)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploader == nil {
		http.Error(w, "uploads disabled", http.StatusServiceUnavailable)
		return
	}
	vault := r.PathValue("vault")
	if strings.TrimSpace(vault) == "" {
		http.Error(w, "vault required", http.StatusBadRequest)
		return
	}
	exists, err := s.uploader.VaultExists(r.Context(), vault)
	if err != nil {
		logging.Error("gateway", "describe vault failed", "vault", vault, "error", err)
		http.Error(w, "archive service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !exists {
		http.Error(w, "vault not found", http.StatusNotFound)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "archive too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty archive", http.StatusBadRequest)
		return
	}
	archiveID, err := s.uploader.Upload(r.Context(), vault, r.Header.Get(headerDescription), data)
	if err != nil {
		logging.Error("gateway", "upload failed", "vault", vault, "error", err)
		http.Error(w, "archive service unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"vault":      vault,
		"archive_id": archiveID,
		"bytes":      len(data),
	})
}

type busStatus struct {
	Connected bool   `json:"connected"`
	Status    string `json:"status"`
	URL       string `json:"url,omitempty"`
}

type statusResponse struct {
	retrieval.Status
	NATS busStatus `json:"nats"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status: s.retriever.Status(),
		NATS:   busStatus{Status: "UNKNOWN"},
	}
	if s.bus != nil {
		resp.NATS = busStatus{
			Connected: s.bus.IsConnected(),
			Status:    s.bus.Status(),
			URL:       s.bus.ConnectedURL(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("gateway", "encode response failed", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush preserves streaming support if the wrapped writer implements it.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrumented wraps handlers to record metrics.
func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}
