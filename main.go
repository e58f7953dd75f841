package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"caloriecast/calories"
	"caloriecast/config"
	"caloriecast/db"
	chttp "caloriecast/http"
	"caloriecast/logging"
	"caloriecast/ml"
	"caloriecast/monitoring"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	configFile string
	envFile    string
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configFile, "config", "", "YAML config file (default config.yaml when present)")
	fs.StringVar(&o.envFile, "env-file", "", "dotenv file (default .env when present)")
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "caloriecast",
		Short:         "Serve calories-burned predictions over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	opts.addFlags(cmd.Flags())
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	// 1. Load settings
	settings, err := config.Load(config.LoadOptions{ConfigFile: opts.configFile, EnvFile: opts.envFile})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Build logger
	logger, err := logging.New(settings.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	// 3. Database session factory, no connection is made here
	sessions, err := db.NewSessionFactory(settings.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("failed to create database session factory: %w", err)
	}
	defer sessions.Close()

	// 4. Model artifacts
	if lib := settings.Model.ONNX.LibraryPath; lib != "" {
		if err := ml.InitONNX(lib); err != nil {
			return fmt.Errorf("failed to initialize onnx runtime: %w", err)
		}
		defer ml.ShutdownONNX()
	}
	store, err := ml.NewArtifactStore(ml.StoreConfig{
		Path:      settings.ModelPath(),
		CacheSize: settings.Model.CacheSize,
		Watch:     settings.Model.Watch,
		Options: ml.LoadOptions{
			NumFeatures: len(calories.FeatureOrder),
			ONNXInput:   settings.Model.ONNX.InputName,
			ONNXOutput:  settings.Model.ONNX.OutputName,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}
	defer store.Close()

	_, statErr := os.Stat(store.Path())
	logger.Info("starting",
		zap.String("project", settings.ProjectName),
		zap.String("database_driver", sessions.Driver()),
		zap.String("model_path", store.Path()),
		zap.Bool("model_present", statErr == nil))
	if statErr != nil {
		logger.Warn("model artifact not found, predictions will fail until it exists", zap.Error(statErr))
	}

	// 5. HTTP server
	metrics := monitoring.NewMetrics()
	predictor := calories.NewPredictor(store, metrics, logger)
	server := chttp.NewServer(chttp.ServerConfig{
		Port:           settings.HTTP.Port,
		ReadTimeout:    settings.HTTP.ReadTimeout,
		WriteTimeout:   settings.HTTP.WriteTimeout,
		AllowedOrigins: settings.HTTP.AllowedOrigins,
		MaxBodyBytes:   settings.HTTP.MaxBodyBytes,
	}, predictor, metrics, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// 6. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
		return errors.New("http server stopped unexpectedly")
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	if err := server.Stop(); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
	return nil
}
