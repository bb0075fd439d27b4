package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ritikkashyap720/Server-monitor/internal/docker"
	"github.com/ritikkashyap720/Server-monitor/internal/domain"
	"github.com/ritikkashyap720/Server-monitor/internal/service/logs"
	"github.com/ritikkashyap720/Server-monitor/internal/service/monitor"
	"github.com/ritikkashyap720/Server-monitor/internal/session"
	"github.com/ritikkashyap720/Server-monitor/internal/ws"
	"github.com/ritikkashyap720/Server-monitor/pkg/config"
	"github.com/ritikkashyap720/Server-monitor/pkg/crypto"
)

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitLogin     = 12
	rateLimitRead      = 120
	rateLimitStreaming = 30
	sseHeartbeat       = 15 * time.Second
	logFetchTimeout    = 10 * time.Second
)

// Router wires HTTP and streaming endpoints to the monitor services. Every
// surface passes through the same session gate: REST via the Authorization
// header, websocket upgrades via a token query parameter (handshakes cannot
// carry custom headers from a browser).
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	sessions    *session.Store
	runtime     docker.Runtime
	broadcaster *monitor.Broadcaster
	streamer    *logs.Streamer
	upgrader    websocket.Upgrader
	limiter     RateLimiter

	username     string
	password     string
	passwordHash string
	corsOrigin   string
	logTail      int
	now          func() time.Time

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, cfg config.MonitorConfig, sessions *session.Store, runtime docker.Runtime, broadcaster *monitor.Broadcaster, streamer *logs.Streamer, limiter RateLimiter) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		sessions:    sessions,
		runtime:     runtime,
		broadcaster: broadcaster,
		streamer:    streamer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		username:     cfg.Username,
		password:     cfg.Password,
		passwordHash: cfg.PasswordHash,
		corsOrigin:   cfg.CORSAllowOrigin,
		logTail:      cfg.LogTailDefault,
		now:          time.Now,
	}
	if r.logTail <= 0 {
		r.logTail = logs.DefaultTail
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP applies CORS then delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.corsOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", r.corsOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/health", r.audit("health", r.handleHealth))
	r.mux.HandleFunc("/api/auth/login", r.audit("login", r.withRateLimit("login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/api/auth/logout", r.audit("logout", r.handleLogout))
	r.mux.HandleFunc("/api/auth/me", r.audit("me", r.requireAuth(r.handleMe)))
	r.mux.HandleFunc("/api/containers", r.audit("containers", r.handlerAuthRate("containers", rateLimitRead, rateWindowDefault, r.handleContainers)))
	r.mux.HandleFunc("/api/containers/", r.audit("container", r.handlerAuthRate("container", rateLimitRead, rateWindowDefault, r.handleContainerSubroutes)))
	r.mux.HandleFunc("/api/stream", r.audit("stream", r.handlerAuthRate("stream", rateLimitStreaming, rateWindowRealtime, r.handleSSE)))
	r.mux.HandleFunc("/ws", r.audit("ws", r.handleWS))
	r.mux.HandleFunc("/ws/logs", r.audit("ws_logs", r.handleLogsWS))
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !r.credentialsMatch(payload.Username, payload.Password) {
		r.logger.Warn("login rejected", "username", payload.Username)
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	token, err := r.sessions.Issue()
	if err != nil {
		r.logger.Error("failed to issue session token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (r *Router) credentialsMatch(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(r.username)) == 1
	if r.passwordHash != "" {
		return userOK && crypto.ComparePassword([]byte(r.passwordHash), password) == nil
	}
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(r.password)) == 1
	return userOK && passOK
}

// handleLogout revokes the supplied token if any. It always succeeds so a
// viewer with an already-expired token can still clear its state.
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if token, err := bearerToken(req.Header.Get("Authorization")); err == nil {
		r.sessions.Revoke(token)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (r *Router) handleContainers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	containers, err := r.runtime.ListRunning(req.Context())
	if err != nil {
		r.logger.Error("failed to list containers", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list containers")
		return
	}
	result := make([]domain.ContainerSummary, 0, len(containers))
	for _, c := range containers {
		result = append(result, monitor.Summarize(c))
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleContainerSubroutes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/containers/")
	parts := strings.Split(trimmed, "/")
	id := parts[0]
	if id == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		r.handleContainerDetail(w, req, id)
	case len(parts) == 2 && parts[1] == "stats":
		r.handleContainerStats(w, req, id)
	case len(parts) == 2 && parts[1] == "logs":
		r.handleContainerLogs(w, req, id)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleContainerDetail(w http.ResponseWriter, req *http.Request, id string) {
	inspect, err := r.runtime.Inspect(req.Context(), id)
	if err != nil {
		r.respondRuntimeError(w, err, "Failed to inspect container")
		return
	}
	detail, err := monitor.DeriveDetail(inspect, r.now())
	if err != nil {
		r.logger.Warn("inspect record unusable", "container", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to inspect container")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (r *Router) handleContainerStats(w http.ResponseWriter, req *http.Request, id string) {
	sample, err := r.runtime.Stats(req.Context(), id)
	if err != nil {
		r.respondRuntimeError(w, err, "Failed to get stats")
		return
	}
	stats, err := monitor.DeriveStats(sample)
	if err != nil {
		r.logger.Warn("stats sample unusable", "container", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleContainerLogs(w http.ResponseWriter, req *http.Request, id string) {
	tail := r.logTail
	if raw := req.URL.Query().Get("tail"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			tail = parsed
		}
	}
	ctx, cancel := context.WithTimeout(req.Context(), logFetchTimeout)
	defer cancel()

	stream, err := r.runtime.OpenLogStream(ctx, id, docker.LogOptions{
		Follow:     false,
		Tail:       tail,
		Timestamps: true,
		Stdout:     true,
		Stderr:     true,
	})
	if err != nil {
		r.respondRuntimeError(w, err, "Failed to get logs")
		return
	}
	defer stream.Close()

	raw, err := io.ReadAll(stream)
	if err != nil {
		r.logger.Error("failed to read log buffer", "container", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs.DecodeBuffer(raw)})
}

func (r *Router) respondRuntimeError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, docker.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No such container")
		return
	}
	r.logger.Error("runtime call failed", "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

// gateStreamingToken validates the out-of-band query token strictly before
// any websocket handshake bytes are written.
func (r *Router) gateStreamingToken(w http.ResponseWriter, req *http.Request) bool {
	token := req.URL.Query().Get("token")
	if !r.sessions.Validate(token) {
		r.logger.Warn("streaming upgrade rejected", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return false
	}
	return true
}

// handleWS subscribes the connection to the snapshot broadcaster until the
// viewer disconnects.
func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	if !r.gateStreamingToken(w, req) {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.broadcaster.Subscribe(client)
	go func() {
		defer func() {
			r.broadcaster.Unsubscribe(client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleLogsWS spawns a dedicated live log streamer for one container. The
// read pump cancels the stream context on viewer disconnect, which releases
// the underlying follow handle.
func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	if !r.gateStreamingToken(w, req) {
		return
	}
	id := req.URL.Query().Get("id")
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	if id == "" {
		payload, _ := json.Marshal(map[string]string{
			"type":    "error",
			"message": "Missing id query parameter",
		})
		_ = client.Send(payload)
		client.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		err := r.streamer.Run(ctx, id, client)
		if err != nil && ctx.Err() == nil {
			client.Close()
		}
	}()
	go func() {
		defer func() {
			cancel()
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleSSE serves the snapshot feed over Server-Sent Events for viewers
// behind proxies that get in the way of websockets.
func (r *Router) handleSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.broadcaster.Subscribe(client)
	defer func() {
		r.broadcaster.Unsubscribe(client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, route, status, duration)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
