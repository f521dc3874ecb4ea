package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/fiscal-sync/internal/ledger"
	"github.com/rezonia/fiscal-sync/internal/logger"
	"github.com/rezonia/fiscal-sync/internal/model"
	"github.com/rezonia/fiscal-sync/internal/processor"
)

const shutdownTimeout = 30 * time.Second

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SyncTimeout  time.Duration
	Debug        bool
}

// ProfileSource looks up taxpayer profiles by RFC
type ProfileSource interface {
	Find(rfc string) (*model.TaxpayerProfile, bool)
}

// Services are the components the handlers call. Publisher may be nil when
// no downstream ledger is configured.
type Services struct {
	Pipeline  *processor.Pipeline
	Publisher *processor.Publisher
	Ledger    *ledger.Ledger
	Profiles  ProfileSource
	Logger    logrus.FieldLogger
}

// Server represents the HTTP API server
type Server struct {
	config   *Config
	router   *gin.Engine
	services Services
	log      logrus.FieldLogger
}

// NewServer creates a new API server
func NewServer(config *Config, services Services) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = 90 * time.Minute
	}
	log := logger.OrDiscard(services.Logger)

	router := gin.New()
	router.Use(RequestID(), Recovery(log), RequestLogger(log))

	s := &Server{
		config:   config,
		router:   router,
		services: services,
		log:      log,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/sync", s.handleSync)

		v1.GET("/tenants/:tenant/batches", s.handleListBatches)
		v1.GET("/tenants/:tenant/pending", s.handleListPending)

		v1.GET("/batches/:id", s.handleGetBatch)
		v1.GET("/batches/:id/reconcile", s.handleReconcile)
		v1.POST("/batches/:id/publish", s.handlePublish)
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("address", s.config.Address).Info("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) abort(c *gin.Context, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg, RequestID: c.GetString(requestIDKey)}
	if err != nil {
		resp.Details = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

func (s *Server) profile(c *gin.Context, rfc string) (*model.TaxpayerProfile, bool) {
	if rfc == "" {
		s.abort(c, http.StatusBadRequest, "rfc is required", nil)
		return nil, false
	}
	p, ok := s.services.Profiles.Find(rfc)
	if !ok {
		s.abort(c, http.StatusNotFound, "unknown taxpayer", nil)
		return nil, false
	}
	return p, true
}

func (s *Server) handleSync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	r, err := model.ParseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		s.abort(c, http.StatusBadRequest, "invalid date range", err)
		return
	}
	p, ok := s.profile(c, req.RFC)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.SyncTimeout)
	defer cancel()

	res := s.services.Pipeline.RunSync(ctx, *p, r)
	if !res.Success {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:     "sync failed",
			Details:   res.Message,
			Stage:     string(res.Stage),
			RequestID: c.GetString(requestIDKey),
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleListBatches(c *gin.Context) {
	tenant := c.Param("tenant")
	batches, err := s.services.Ledger.ListBatchesByTenant(c.Request.Context(), tenant)
	if err != nil {
		s.abort(c, http.StatusInternalServerError, "failed to list batches", err)
		return
	}
	c.JSON(http.StatusOK, BatchListResponse{Tenant: tenant, Batches: batches})
}

func (s *Server) handleListPending(c *gin.Context) {
	tenant := c.Param("tenant")
	pending, err := s.services.Ledger.ListPending(c.Request.Context(), tenant)
	if err != nil {
		s.abort(c, http.StatusInternalServerError, "failed to list pending batches", err)
		return
	}
	c.JSON(http.StatusOK, PendingListResponse{Tenant: tenant, Pending: pending})
}

func (s *Server) handleGetBatch(c *gin.Context) {
	b, err := s.services.Ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleReconcile(c *gin.Context) {
	if s.services.Publisher == nil {
		s.abort(c, http.StatusServiceUnavailable, "downstream ledger not configured", nil)
		return
	}
	p, ok := s.profile(c, c.Query("rfc"))
	if !ok {
		return
	}

	batchID := c.Param("id")
	results, err := s.services.Publisher.Check(c.Request.Context(), *p, batchID)
	if err != nil {
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReconcileResponse{BatchID: batchID, Results: results})
}

func (s *Server) handlePublish(c *gin.Context) {
	if s.services.Publisher == nil {
		s.abort(c, http.StatusServiceUnavailable, "downstream ledger not configured", nil)
		return
	}
	p, ok := s.profile(c, c.Query("rfc"))
	if !ok {
		return
	}

	report, err := s.services.Publisher.Publish(c.Request.Context(), *p, c.Param("id"))
	if err != nil && report == nil {
		s.ledgerError(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) ledgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		s.abort(c, http.StatusNotFound, "batch not found", nil)
	case errors.Is(err, processor.ErrLedgerNotConfigured):
		s.abort(c, http.StatusUnprocessableEntity, "taxpayer has no downstream ledger", err)
	case errors.Is(err, model.ErrUnauthorized):
		s.abort(c, http.StatusBadGateway, "downstream ledger rejected the token", err)
	default:
		s.abort(c, http.StatusInternalServerError, "request failed", err)
	}
}
