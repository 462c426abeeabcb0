package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/pickandplay/guitar-api/internal"
	"github.com/pickandplay/guitar-api/internal/auth"
	"github.com/pickandplay/guitar-api/internal/core/events"
	"github.com/pickandplay/guitar-api/internal/khqr"
	"github.com/pickandplay/guitar-api/internal/notification"
	orderPostgres "github.com/pickandplay/guitar-api/internal/order/postgres"
	"github.com/pickandplay/guitar-api/internal/payment"
	paymentPostgres "github.com/pickandplay/guitar-api/internal/payment/postgres"
	"github.com/pickandplay/guitar-api/internal/sweeper"
	"github.com/pickandplay/guitar-api/internal/telegram"
	"github.com/pickandplay/guitar-api/internal/transport"
	"github.com/pickandplay/guitar-api/internal/transport/middleware"
	"github.com/pickandplay/guitar-api/internal/transport/rest"
	"github.com/pickandplay/guitar-api/internal/transport/swagger"
	"github.com/pickandplay/guitar-api/pkg/logger"
)

const openAPIPath = "api/openapi.yml"

var withSweeper bool

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server that issues KHQR codes, accepts payment confirmations and streams payment events`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config     *internal.Config
	DB         *sqlx.DB
	Router     *chi.Mux
	Hub        *notification.Hub
	Bus        *events.EventBus
	Telegram   *telegram.Notifier
	Reconciler *payment.Reconciler
	Logger     *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	sweeperDone := make(chan struct{})
	if withSweeper {
		s := sweeper.New(deps.DB, deps.Reconciler, deps.Config.Sweeper.Interval, deps.Config.Sweeper.BatchSize, deps.Logger)
		go func() {
			defer close(sweeperDone)
			s.Run(bgCtx)
		}()
	} else {
		close(sweeperDone)
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	// SSE streams never finish on their own; closing the hub ends them so Shutdown can drain
	deps.Hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		deps.Logger.Error("Server shutdown error", "error", err)
	}

	stopBackground()
	<-sweeperDone
	deps.Bus.Wait()
	deps.Telegram.Shutdown()

	if err := deps.DB.Close(); err != nil {
		deps.Logger.Error("Database close error", "error", err)
	}

	deps.Logger.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gdb, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	orders := orderPostgres.NewOrderRepository(gdb)
	ledger := payment.NewLedger(paymentPostgres.NewPaymentRepository(gdb), lg)
	generator := khqr.NewGenerator(khqr.MerchantProfile{
		BakongAccountID: config.Payment.BakongAccountID,
		MerchantID:      config.Payment.MerchantID,
		MerchantName:    config.Payment.MerchantName,
		MerchantCity:    config.Payment.MerchantCity,
		AcquiringBank:   config.Payment.AcquiringBank,
		StoreLabel:      config.Payment.StoreLabel,
		TerminalLabel:   config.Payment.TerminalLabel,
		MobileNumber:    config.Payment.MobileNumber,
	}, config.Payment.QRImageSize)

	hub := notification.NewHub(notification.Options{
		BufferSize:  config.Notification.BufferSize,
		SendTimeout: config.Notification.SendTimeout,
	}, lg)
	bus := events.NewEventBus(lg)

	notifier := telegram.NewNotifier(telegram.NewClient(config.Telegram, lg), orders, telegram.Config{}, lg)
	notifier.RegisterEventHandlers(bus)
	if config.Security.JWTSecret == "" {
		lg.Warn("jwt secret is empty, bearer tokens will be rejected and callers treated as guests only")
	}
	if !config.Telegram.Enabled() {
		lg.Warn("telegram credentials missing, payment chat notifications are disabled")
	}

	reconciler := payment.NewReconciler(orders, ledger, generator, hub, bus, lg)
	service := payment.NewService(orders, ledger, generator, lg)

	if _, err := swagger.LoadSpec(context.Background(), openAPIPath); err != nil {
		lg.Warn("openapi document failed to load", "path", openAPIPath, "error", err)
	}

	base := transport.NewBaseHandler(lg)
	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.Handlers{
		Health:          rest.NewHealthHandler(db, hub),
		Payment:         payment.NewHandler(base, service),
		Webhook:         payment.NewWebhookHandler(base, reconciler),
		Stream:          notification.NewStreamHandler(base, hub, config.Notification.HeartbeatInterval),
		Auth:            auth.NewMiddleware(base, auth.NewJWTTokenGenerator(config.Security.JWTSecret)),
		CallbackLimiter: middleware.NewRateLimiter(config.RateLimit.CallbackRPS, config.RateLimit.CallbackBurst),
		OpenAPIPath:     openAPIPath,
	}, config.Server, lg)

	return &Dependencies{
		Config:     config,
		DB:         db,
		Router:     router,
		Hub:        hub,
		Bus:        bus,
		Telegram:   notifier,
		Reconciler: reconciler,
		Logger:     lg,
	}, nil
}

func init() {
	httpServerCmd.Flags().BoolVar(&withSweeper, "with-sweeper", false, "run the order sweeper inside the server process")
}
