package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	auth "github.com/ecofy/ecofy-auth"
	"github.com/ecofy/ecofy-auth/activitymap"
	"github.com/ecofy/ecofy-auth/api"
	"github.com/ecofy/ecofy-auth/config"
	"github.com/ecofy/ecofy-auth/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var addr string
	var migrateOnly bool

	flagSet := pflag.NewFlagSet("ecofy-auth", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	flagSet.StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	flagSet.BoolVar(&migrateOnly, "migrate-only", false, "apply database migrations and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger := auth.NewSlogLogger(slogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := auth.OpenDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.Migrate || migrateOnly {
		if err := auth.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("migrations applied", "driver", cfg.Database.Driver)
	}
	if migrateOnly {
		return nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := auth.MultiActivitySink{
		metrics.New(registry),
		activitymap.NewLogSink(logger),
	}

	hasher, err := auth.NewPasswordHasher(cfg.GetHashCost())
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenServiceFromConfig(cfg, auth.WithTokenLogger(logger))
	if err != nil {
		return err
	}

	repos := auth.NewRepositoryManager(db)
	repos.MustValidate()

	var txOptions *sql.TxOptions
	if cfg.Auth.SerializableTxLevel && strings.EqualFold(cfg.Database.Driver, auth.DriverPostgres) {
		txOptions = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	resolver := auth.NewResolver(repos.Principals(), auth.WithResolverLogger(logger))
	guard := auth.NewGuard(tokens, resolver, auth.WithGuardLogger(logger))

	auther := auth.NewAuthenticator(repos, tokens,
		auth.WithAutherHasher(hasher),
		auth.WithAutherLogger(logger),
		auth.WithAutherActivitySink(sink),
	)

	if cfg.Admin.Email != "" {
		_, created, err := auther.EnsureAdmin(ctx, auth.AdminSeed{
			Email:     cfg.Admin.Email,
			Password:  cfg.Admin.Password,
			FirstName: cfg.Admin.FirstName,
			LastName:  cfg.Admin.LastName,
		})
		if err != nil {
			return err
		}
		if created {
			logger.Info("seeded bootstrap admin", "email", cfg.Admin.Email)
		}
	}

	controller := &api.Controller{
		Guard:  guard,
		Auther: auther,
		Registrar: auth.NewRegisterHandler(repos,
			auth.WithRegisterHasher(hasher),
			auth.WithRegisterDefaultStatus(cfg.GetRegistrationStatus()),
			auth.WithRegisterActivitySink(sink),
			auth.WithRegisterLogger(logger),
		),
		Lifecycle: auth.NewStatusLifecycle(repos,
			auth.WithStateMachineActivitySink(sink),
			auth.WithStateMachineLogger(logger),
			auth.WithStateMachineTxOptions(txOptions),
		),
		Principals: repos.Principals(),
		Logger:     logger,
		AuthScheme: cfg.GetAuthScheme(),
	}

	srv := api.NewServer(logger)
	srv.WrappedRouter().Get("/metrics", metrics.Handler(registry))
	controller.Register(srv.Router())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		errCh <- srv.Serve(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ecofy-auth serves the Ecofy authentication API.

Configuration is read from the YAML file given with --config and can be
overridden with ECOFY_* environment variables.

Usage:
  ecofy-auth [flags]

Flags:
%s`, flagSet.FlagUsages())
}
