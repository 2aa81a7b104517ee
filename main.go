package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"eventsub-relay/internal/config"
	"eventsub-relay/internal/logging"
	"eventsub-relay/internal/runtime"
)

var BuildVersion = "dev"

const (
	exitFailure     = 1
	exitUsage       = 2
	shutdownTimeout = 10 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			return 0
		}
		return exitUsage
	}

	logger := logging.New(opts.Debug)
	defer func() {
		_ = logger.Close()
	}()
	if opts.LogToFile {
		if err := logger.EnableFilePersistence(0); err != nil {
			logger.Warn("failed to enable file log persistence", logging.Field("error", err))
		}
	}
	logger.Info("starting eventsub relay", logging.Field("version", BuildVersion))

	lock, lockedByOther, lockErr := acquireInstanceLock(opts.TokenFile)
	if lockErr != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize single-instance lock:", lockErr)
		return exitUsage
	}
	if lockedByOther {
		fmt.Fprintln(os.Stderr, "eventsub relay is already running for", opts.TokenFile)
		return exitFailure
	}
	defer func() {
		_ = lock.Release()
	}()

	if opts.Authorize {
		cred, err := runtime.Authorize(rootCtx, opts, logger)
		if err != nil {
			logger.Error("device authorization failed", logging.Field("error", err))
			return exitFailure
		}
		logger.Info("device authorization complete",
			logging.Field("login", cred.Login),
			logging.Field("token_file", opts.TokenFile),
		)
		return 0
	}

	runner := runtime.NewController(rootCtx)
	if err := runner.Start(opts, logger, runtime.StartHooks{
		OnStatus: func(status string) {
			logger.Debug("status", logging.Field("status", status))
		},
	}); err != nil {
		logger.Error("failed to start relay", logging.Field("error", err))
		return exitUsage
	}

	select {
	case <-runner.Done():
	case <-rootCtx.Done():
		logger.Info("shutdown requested")
		if !runner.StopAndWait(shutdownTimeout) {
			logger.Warn("relay did not stop in time", logging.Field("timeout", shutdownTimeout.String()))
			return exitFailure
		}
	}
	if err := runner.Err(); err != nil {
		return exitFailure
	}
	return 0
}
