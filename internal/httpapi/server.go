package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/internal/metrics"
	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const claimsContextKey = "auth_claims"

// LedgerService is the subset of ledger.Service the HTTP API drives.
type LedgerService interface {
	AddStock(ctx context.Context, bankID ledger.BankID, input ledger.StockInput) (ledger.StockBatch, error)
	UpdateStock(ctx context.Context, bankID ledger.BankID, batchID ledger.BatchID, units ledger.Units, expiresAt time.Time) (ledger.StockBatch, error)
	DeleteStock(ctx context.Context, bankID ledger.BankID, batchID ledger.BatchID) error
	AccountView(ctx context.Context, bankID ledger.BankID) (ledger.AccountView, error)
	QueryAvailability(ctx context.Context, filter ledger.AvailabilityFilter) ([]ledger.AvailabilityMatch, error)
	RegisterBank(ctx context.Context, registration ledger.Registration) (ledger.Account, error)
	AuthenticateBank(ctx context.Context, email string, password string) (ledger.BankID, error)
	Stats(ctx context.Context) (ledger.Stats, error)
	SweepExpired(ctx context.Context) (ledger.SweepReport, error)
}

// Run serves router on cfg.ListenAddr until ctx is canceled.
func Run(ctx context.Context, cfg Config, router http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter wires routes, CORS, request logging and session checks.
func NewRouter(cfg Config, handler *Handler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.observeRequests())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if handler.recorder != nil {
		router.GET("/metrics", gin.WrapH(handler.recorder.Handler()))
	}

	public := router.Group("/api")
	public.GET("/availability", handler.handleAvailability)
	public.POST("/bloodbanks", handler.handleRegister)
	public.POST("/bloodbanks/login", handler.handleLogin)

	stock := router.Group("/api/stock")
	stock.Use(validator.GinMiddleware(claimsContextKey), requireRole(RoleBloodBank))
	stock.GET("", handler.handleListStock)
	stock.POST("", handler.handleAddStock)
	stock.PUT("/:id", handler.handleUpdateStock)
	stock.DELETE("/:id", handler.handleDeleteStock)

	admin := router.Group("/api/admin")
	admin.Use(validator.GinMiddleware(claimsContextKey), requireRole(RoleAdmin))
	admin.GET("/stats", handler.handleStats)
	admin.POST("/sweep", handler.handleSweep)

	return router
}

// Handler serves the ledger over HTTP.
type Handler struct {
	service  LedgerService
	logger   *zap.Logger
	recorder *metrics.Recorder
	timeout  time.Duration
}

// NewHandler builds a Handler; recorder may be nil.
func NewHandler(service LedgerService, logger *zap.Logger, recorder *metrics.Recorder, cfg Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Handler{service: service, logger: logger, recorder: recorder, timeout: timeout}
}

func (handler *Handler) observeRequests() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(started)
		if handler.recorder != nil {
			handler.recorder.ObserveRequest(ctx.Request.Method, route, ctx.Writer.Status(), elapsed)
		}
		handler.logger.Debug("http request",
			zap.String("method", ctx.Request.Method),
			zap.String("route", route),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("elapsed", elapsed),
		)
	}
}

func requireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			abortWithResult(ctx, ledger.ErrUnauthorized)
			return
		}
		for _, granted := range claims.GetUserRoles() {
			if granted == role {
				ctx.Next()
				return
			}
		}
		abortWithResult(ctx, ledger.ErrUnauthorized)
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func statusFor(category ledger.Category) int {
	switch category {
	case ledger.CategoryUnauthorized:
		return http.StatusUnauthorized
	case ledger.CategoryNotFound:
		return http.StatusNotFound
	case ledger.CategoryInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithResult(ctx *gin.Context, err error) {
	result := ledger.NewResult(err, "")
	ctx.AbortWithStatusJSON(statusFor(result.Category), result)
}
