package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/gochat-relay/internal/credentials"
	"github.com/Tyrowin/gochat-relay/internal/logging"
	"github.com/Tyrowin/gochat-relay/internal/server"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run parses arguments, starts the relay and blocks until a signal arrives or
// the listener fails.
func run(args []string, stderr io.Writer) error {
	cfg, err := loadConfig(args, stderr)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Dir: cfg.LogDir, Level: cfg.LogLevel, Console: stderr})
	if err != nil {
		return fmt.Errorf("logger setup: %w", err)
	}
	defer logger.Close()
	log := logger.Logger

	store, err := loadCredentials(cfg.UsersFile, log)
	if err != nil {
		return err
	}

	srv := server.New(*cfg, store, log)
	httpServer := server.CreateServer(cfg.Addr(), srv.Routes())

	errCh, err := server.StartServer(httpServer)
	if err != nil {
		return err
	}
	log.Info().Str("addr", cfg.Addr()).Msg("Server listening")
	if logger.Path != "" {
		log.Info().Str("file", logger.Path).Msg("Logging to file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("Server error")
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := srv.Hub().Shutdown(shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("Hub shutdown failed")
	}

	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	log.Info().Msg("Server stopped cleanly")
	return nil
}

// loadConfig layers defaults, an optional .env file, CHAT_* environment
// variables and finally command-line flags.
func loadConfig(args []string, stderr io.Writer) (*server.Config, error) {
	flags := pflag.NewFlagSet("gochat-relay", pflag.ContinueOnError)
	flags.SetOutput(stderr)

	host := flags.StringP("host", "H", server.DefaultHost, "Host to bind")
	port := flags.IntP("port", "p", server.DefaultPort, "Port to listen on")
	users := flags.String("users", server.DefaultUsersFile, "Credential file with one username:password per line")
	logDir := flags.String("log-dir", server.DefaultLogDir, "Directory for log files (empty disables file logging)")
	logLevel := flags.String("log-level", server.DefaultLogLevel, "Log level: debug, info, warn or error")
	envFile := flags.String("env-file", "", "Optional .env file to load before reading the environment")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", *envFile, err)
		}
	}

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return nil, err
	}

	if flags.Changed("host") {
		cfg.Host = *host
	}
	if flags.Changed("port") {
		cfg.Port = *port
	}
	if flags.Changed("users") {
		cfg.UsersFile = *users
	}
	if flags.Changed("log-dir") {
		cfg.LogDir = *logDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadCredentials reads the password file. A missing file is only a warning:
// the relay starts and rejects every login.
func loadCredentials(path string, log zerolog.Logger) (*credentials.Store, error) {
	store, err := credentials.Load(path)
	switch {
	case errors.Is(err, credentials.ErrSourceMissing):
		log.Warn().Str("path", path).Msg("Password file not found; every login will fail")
		return store, nil
	case err != nil:
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	log.Info().Int("users", store.Len()).Strs("names", store.Usernames()).Str("path", path).
		Msg("Credentials loaded")
	return store, nil
}
