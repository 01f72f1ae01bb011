package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "powercal/docs"
	"powercal/internal/config"
	"powercal/internal/handlers"
	"powercal/internal/logger"
	"powercal/internal/metrics"
	"powercal/internal/repository"
	"powercal/internal/repository/db"
	"powercal/internal/server"
	"powercal/internal/service"
	"powercal/internal/transport"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "powercal",
	Short: "Operator console for calibrating Tasmota power monitoring over MQTT",
	Long: `powercal subscribes to a Tasmota MQTT bus, discovers devices, tracks their
calibration variables and rolling temperature averages, and serves an operator
console (REST + WebSocket) for publishing commands.

Example:
  powercal --config configs/config.yml`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(parent context.Context) error {
	// load config.yml
	if err := config.Read(cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.Get(cfg.LogLevel)

	// open DB
	conn, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	client := transport.NewClient(transport.Config{
		Host:      cfg.MQTT.Host,
		Port:      cfg.MQTT.Port,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		ClientID:  cfg.MQTT.ClientID,
		KeepAlive: cfg.MQTT.KeepAlive,
	}, log.Named("mqtt"), m)

	exitRequested := make(chan struct{}, 1)

	// wire dependencies
	repos := repository.NewRepository(conn)
	services, err := service.NewService(repos, service.Deps{
		Config:    cfg,
		Publisher: client,
		Metrics:   m,
		Log:       log,
		OnExit: func() {
			select {
			case exitRequested <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		return err
	}

	if cfg.Auth.OperatorUsername != "" {
		if _, err := services.EnsureOperator(ctx, cfg.Auth.OperatorUsername, cfg.Auth.OperatorPassword); err != nil {
			return fmt.Errorf("ensure operator: %w", err)
		}
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to mqtt broker: %w", err)
	}
	log.Infow("mqtt connected", "host", cfg.MQTT.Host, "port", cfg.MQTT.Port)

	if err := services.Prime(ctx); err != nil {
		_ = client.Disconnect()
		return fmt.Errorf("prime subscriptions: %w", err)
	}

	routerDone := make(chan error, 1)
	go func() { routerDone <- services.Run(ctx, client.Messages()) }()

	// start HTTP server
	srv := server.New(cfg.Port, handlers.NewHandler(services, m, log.Named("http")).InitRoutes())
	httpDone := make(chan error, 1)
	go func() { httpDone <- srv.Run() }()
	log.Infow("http server listening", "addr", srv.Addr())

	var runErr error
	select {
	case <-ctx.Done():
		log.Infow("shutdown signal received")
	case <-exitRequested:
		log.Infow("exit requested by operator")
	case err := <-client.Errors():
		runErr = fmt.Errorf("mqtt connection lost: %w", err)
	case err := <-routerDone:
		if !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("router stopped: %w", err)
		}
	case err := <-httpDone:
		runErr = fmt.Errorf("http server: %w", err)
	}
	if runErr != nil {
		log.Errorw("shutting down", "err", runErr)
	}

	shutdown(cancel, srv, client, log)
	return runErr
}

// shutdown stops background goroutines, drains HTTP and closes the session.
func shutdown(cancel context.CancelFunc, srv *server.Server, client *transport.Client, log *logger.Logger) {
	log.Infow("shutting down server...")
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
	if err := client.Disconnect(); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		log.Warnw("mqtt disconnect", "err", err)
	}
}
