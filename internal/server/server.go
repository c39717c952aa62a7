package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"LendLedger/internal/engine"
	"LendLedger/internal/gateway"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/query"
)

// Server hosts the gRPC endpoint (health + reflection) and the HTTP/JSON
// API used by tooling, dashboards, and curl.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string

	engine  *engine.Engine
	query   *query.Service
	checker *observability.HealthChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// Deps holds the server's dependencies.
type Deps struct {
	Engine        *engine.Engine
	QueryService  *query.Service
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// NewServer creates the server with health and reflection services
// registered on the gRPC side.
func NewServer(grpcAddr, httpAddr string, deps *Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		engine:       deps.Engine,
		query:        deps.QueryService,
		checker:      deps.HealthChecker,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"POST", "/v1/deposit", s.opHandler(engine.OpDeposit)},
		{"POST", "/v1/borrow", s.opHandler(engine.OpBorrow)},
		{"POST", "/v1/repay", s.opHandler(engine.OpRepay)},
		{"POST", "/v1/withdraw", s.opHandler(engine.OpWithdraw)},
		{"GET", "/v1/positions/{account}", s.handleGetPosition},
		{"GET", "/v1/positions/{account}/events", s.handleGetEvents},
		{"GET", "/v1/positions/{account}/activity", s.handleGetActivity},
		{"GET", "/v1/custody", s.handleGetCustody},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", s.checker.LivenessHandler)
	httpMux.HandleFunc("/readyz", s.checker.ReadinessHandler)
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// opRequest is the JSON body accepted by the mutating endpoints. A
// missing instruction_id gets a fresh one, which bypasses dedup; callers
// that need retry safety must supply their own.
type opRequest struct {
	InstructionID string `json:"instruction_id,omitempty"`
	Account       string `json:"account"`
	Amount        int64  `json:"amount,omitempty"`
}

type opResponse struct {
	Sequence  int64  `json:"sequence"`
	Op        string `json:"op"`
	Account   string `json:"account"`
	Amount    int64  `json:"amount"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) opHandler(op engine.Op) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		endpoint := "/v1/" + op.String()
		start := time.Now()

		var req opRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, endpoint, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}

		account, err := uuid.Parse(req.Account)
		if err != nil {
			s.writeError(w, endpoint, http.StatusBadRequest, "bad_request", "invalid account")
			return
		}

		id := uuid.New()
		if req.InstructionID != "" {
			id, err = uuid.Parse(req.InstructionID)
			if err != nil {
				s.writeError(w, endpoint, http.StatusBadRequest, "bad_request", "invalid instruction_id")
				return
			}
		}

		// The shell assigns the versioned timestamp; the engine never
		// reads the wall clock.
		res, err := s.engine.Submit(r.Context(), engine.Command{
			ID:        id,
			Op:        op,
			Account:   account,
			Amount:    req.Amount,
			Timestamp: time.Now(),
		})
		if err != nil {
			s.writeError(w, endpoint, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
		if res.Err != nil {
			status, code := statusOf(res.Err)
			s.writeError(w, endpoint, status, code, res.Err.Error())
			return
		}

		s.writeJSON(w, endpoint, http.StatusOK, opResponse{
			Sequence:  res.Sequence,
			Op:        op.String(),
			Account:   account.String(),
			Amount:    res.Amount,
			Duplicate: res.Duplicate,
		})
		s.observe(endpoint, start)
	}
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	const endpoint = "/v1/positions/{account}"
	start := time.Now()

	account, err := uuid.Parse(pathParams["account"])
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, "bad_request", "invalid account")
		return
	}

	s.writeJSON(w, endpoint, http.StatusOK, s.query.GetPosition(account, time.Now()))
	s.observe(endpoint, start)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	const endpoint = "/v1/positions/{account}/events"
	start := time.Now()

	account, err := uuid.Parse(pathParams["account"])
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, "bad_request", "invalid account")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			before = &n
		}
	}

	entries, err := s.query.GetEventHistory(r.Context(), account, limit, before)
	if err != nil {
		s.writeError(w, endpoint, http.StatusInternalServerError, "internal", "event history unavailable")
		return
	}

	s.writeJSON(w, endpoint, http.StatusOK, map[string]interface{}{
		"account": account.String(),
		"events":  entries,
	})
	s.observe(endpoint, start)
}

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	const endpoint = "/v1/positions/{account}/activity"
	start := time.Now()

	account, err := uuid.Parse(pathParams["account"])
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, "bad_request", "invalid account")
		return
	}

	activity, err := s.query.GetActivity(r.Context(), account)
	if err != nil {
		s.writeError(w, endpoint, http.StatusInternalServerError, "internal", "activity unavailable")
		return
	}

	s.writeJSON(w, endpoint, http.StatusOK, activity)
	s.observe(endpoint, start)
}

func (s *Server) handleGetCustody(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	const endpoint = "/v1/custody"
	start := time.Now()

	custody, err := s.query.GetCustody(r.Context())
	if err != nil {
		s.writeError(w, endpoint, http.StatusInternalServerError, "internal", "custody state unavailable")
		return
	}

	s.writeJSON(w, endpoint, http.StatusOK, custody)
	s.observe(endpoint, start)
}

// statusOf maps ledger rejections to HTTP statuses: requirement failures
// map to 422, state conflicts to 409.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, gateway.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, gateway.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity, "insufficient_allowance"
	case errors.Is(err, ledger.ErrInsufficientCollateral):
		return http.StatusUnprocessableEntity, "insufficient_collateral"
	case errors.Is(err, ledger.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity, "insufficient_liquidity"
	case errors.Is(err, ledger.ErrNoDebtToRepay):
		return http.StatusConflict, "no_debt"
	case errors.Is(err, ledger.ErrOutstandingDebt):
		return http.StatusConflict, "outstanding_debt"
	case errors.Is(err, ledger.ErrNoCollateral):
		return http.StatusConflict, "no_collateral"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, endpoint string, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
}

func (s *Server) writeError(w http.ResponseWriter, endpoint string, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: code, Message: message})
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		s.metrics.QueryErrors.WithLabelValues(endpoint, code).Inc()
	}
}

func (s *Server) observe(endpoint string, start time.Time) {
	if s.metrics != nil {
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}
