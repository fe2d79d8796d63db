// Package httpapi serves the wallet, payment webhook and admin reconciliation endpoints over gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey          = "auth_claims"
	defaultRequestTimeout     = 3 * time.Second
	defaultWalletHistoryLimit = 10
	defaultSessionIssuer      = "tauth"
	defaultSessionCookie      = "app_session"
	shutdownTimeout           = 5 * time.Second
)

// Ledger is the part of ledger.Service exposed over HTTP.
type Ledger interface {
	Balance(ctx context.Context, userID ledger.UserID) (ledger.AccountBalance, error)
	Grant(ctx context.Context, request ledger.GrantRequest) (ledger.GrantResult, error)
	CanSpend(ctx context.Context, userID ledger.UserID, amount ledger.PositiveCredits) (bool, error)
	Spend(ctx context.Context, request ledger.SpendRequest) (ledger.SpendResult, error)
	ListEntries(ctx context.Context, userID ledger.UserID, query ledger.ListQuery) ([]ledger.Entry, error)
	Reconcile(ctx context.Context, userID ledger.UserID) (ledger.ReconcileReport, error)
	Repair(ctx context.Context, request ledger.RepairRequest) (ledger.RepairResult, error)
	BulkScan(ctx context.Context, limit int) ([]ledger.UserID, error)
}

// Config holds the HTTP surface settings.
type Config struct {
	AllowedOrigins     []string
	SessionSigningKey  string
	SessionIssuer      string
	SessionCookieName  string
	AdminTokenHash     string
	WebhookTokenHash   string
	RequestTimeout     time.Duration
	WelcomeCredits     int64
	WalletHistoryLimit int
}

// Validate applies defaults and rejects unusable settings.
func (cfg *Config) Validate() error {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.WalletHistoryLimit <= 0 {
		cfg.WalletHistoryLimit = defaultWalletHistoryLimit
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if cfg.WelcomeCredits < 0 {
		return fmt.Errorf("welcome credits must not be negative")
	}
	return nil
}

// ScanObserver receives the outcome of each admin drift scan.
type ScanObserver interface {
	ObserveBulkScan(drifted int, atUnixUTC int64)
}

// Dependencies are the collaborators the router needs. Logger, Gatherer and ScanObserver are optional.
type Dependencies struct {
	Ledger       Ledger
	Logger       *zap.Logger
	Gatherer     prometheus.Gatherer
	ScanObserver ScanObserver
}

// NewRouter builds the gin engine. Admin and webhook routes are mounted only when their token hash is configured.
func NewRouter(cfg Config, dependencies Dependencies) (*gin.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dependencies.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:       logger,
		ledger:       dependencies.Ledger,
		scanObserver: dependencies.ScanObserver,
		cfg:          cfg,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if dependencies.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(dependencies.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.Use(sessionValidator.GinMiddleware(claimsContextKey))
	api.GET("/wallet", handler.handleWallet)
	api.POST("/bootstrap", handler.handleBootstrap)
	api.GET("/can-spend", handler.handleCanSpend)
	api.POST("/spend", handler.handleSpend)

	if strings.TrimSpace(cfg.WebhookTokenHash) != "" {
		webhooks := router.Group("/webhooks")
		webhooks.Use(requireBearerToken(cfg.WebhookTokenHash))
		webhooks.POST("/payments", handler.handlePayment)
	} else {
		logger.Warn("webhook token hash not configured; payment webhooks disabled")
	}

	if strings.TrimSpace(cfg.AdminTokenHash) != "" {
		admin := router.Group("/admin")
		admin.Use(requireBearerToken(cfg.AdminTokenHash))
		admin.POST("/users/:id/grants", handler.handleAdminGrant)
		admin.GET("/users/:id/entries", handler.handleAdminEntries)
		admin.GET("/users/:id/reconcile", handler.handleAdminReconcile)
		admin.POST("/users/:id/repair", handler.handleAdminRepair)
		admin.GET("/drift", handler.handleAdminDrift)
	} else {
		logger.Warn("admin token hash not configured; admin routes disabled")
	}

	return router, nil
}

// Serve runs handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
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

type httpHandler struct {
	logger       *zap.Logger
	ledger       Ledger
	scanObserver ScanObserver
	cfg          Config
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		logger.Debug("http request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
		)
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
