package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/MarkoPoloResearchLab/creditledger/internal/config"
	"github.com/MarkoPoloResearchLab/creditledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/creditledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/creditledger/internal/observability"
	"github.com/MarkoPoloResearchLab/creditledger/pkg/creditrpc"
	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const flagAutoMigrate = "auto-migrate"

func newServeCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC and HTTP ledger servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.cfg.ValidateServe(); err != nil {
				return err
			}
			autoMigrate, err := cmd.Flags().GetBool(flagAutoMigrate)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.runServer(ctx, autoMigrate)
		},
	}

	flags := cmd.Flags()
	flags.String(config.KeyGRPCListenAddr, "", "gRPC listen address")
	flags.String(config.KeyHTTPListenAddr, "", "HTTP listen address")
	flags.String(config.KeyAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(config.KeyJWTSigningKey, "", "TAuth JWT signing key (required)")
	flags.String(config.KeyJWTIssuer, "", "expected JWT issuer")
	flags.String(config.KeyJWTCookieName, "", "JWT cookie name")
	flags.String(config.KeyAdminTokenHash, "", "bcrypt hash of the admin bearer token; admin routes are disabled when empty")
	flags.String(config.KeyWebhookTokenHash, "", "bcrypt hash of the payment webhook bearer token; webhooks are disabled when empty")
	flags.Int64(config.KeyWelcomeCredits, 0, "credits granted once by /api/bootstrap")
	flags.Int(config.KeyWalletHistoryLimit, 0, "entries returned with the wallet")
	flags.Bool(flagAutoMigrate, false, "apply postgres migrations before serving")
	return cmd
}

// buildService wires the store and the operation loggers into a ledger service.
func (app *application) buildService(ctx context.Context, registerer prometheus.Registerer, autoMigrate bool) (*ledger.Service, func(), error) {
	opened, err := openStore(ctx, app.cfg, app.logger, autoMigrate)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	cleanup := opened.cleanup

	loggers := ledger.OperationLoggers{observability.NewZapOperationLogger(app.logger)}
	if registerer != nil {
		app.metrics = observability.NewMetrics(registerer)
		loggers = append(loggers, app.metrics)
	}
	if app.cfg.RedisURL != "" {
		options, err := redis.ParseURL(app.cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(options)
		loggers = append(loggers, observability.NewStreamPublisher(client, app.cfg.RedisStream, app.logger))
		storeCleanup := cleanup
		cleanup = func() {
			_ = client.Close()
			storeCleanup()
		}
	}

	options := append(app.cfg.ServiceOptions(), ledger.WithOperationLogger(loggers))
	service, err := ledger.NewService(opened.store, app.clock, options...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("credit service init: %w", err)
	}
	app.logger.Info("ledger ready",
		zap.String("driver", opened.driver),
		zap.Int64("grace_unit", app.cfg.GraceUnit),
		zap.Int64("max_spend", app.cfg.MaxSpend),
		zap.Int("exempt_users", len(app.cfg.ExemptUsers)),
	)
	return service, cleanup, nil
}

func (app *application) runServer(ctx context.Context, autoMigrate bool) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	creditService, cleanup, err := app.buildService(ctx, registry, autoMigrate)
	if err != nil {
		return err
	}
	defer cleanup()

	router, err := httpapi.NewRouter(app.cfg.HTTP(), httpapi.Dependencies{
		Ledger:       creditService,
		Logger:       app.logger,
		Gatherer:     registry,
		ScanObserver: app.metrics,
	})
	if err != nil {
		return fmt.Errorf("http router: %w", err)
	}

	lis, err := net.Listen("tcp", app.cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	creditrpc.RegisterCreditServiceServer(grpcServer, grpcserver.NewCreditServiceServer(creditService))

	grpcErrCh := make(chan error, 1)
	go func() {
		app.logger.Info("gRPC server starting", zap.String("listen_addr", app.cfg.GRPCListenAddr))
		grpcErrCh <- grpcServer.Serve(lis)
	}()

	httpCtx, cancelHTTP := context.WithCancel(ctx)
	defer cancelHTTP()
	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpapi.Serve(httpCtx, app.cfg.HTTPListenAddr, router, app.logger)
	}()

	select {
	case <-ctx.Done():
		app.logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		cancelHTTP()
		httpErr := <-httpErrCh
		if serveErr := <-grpcErrCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return httpErr
	case serveErr := <-grpcErrCh:
		cancelHTTP()
		<-httpErrCh
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	case httpErr := <-httpErrCh:
		grpcServer.GracefulStop()
		<-grpcErrCh
		return httpErr
	}
}
