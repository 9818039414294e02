package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jrsteele09/iiif-auth-server/auth"
	"github.com/jrsteele09/iiif-auth-server/credentials"
	"github.com/jrsteele09/iiif-auth-server/domains"
	"github.com/jrsteele09/iiif-auth-server/idp"
	"github.com/jrsteele09/iiif-auth-server/internal/config"
	"github.com/jrsteele09/iiif-auth-server/internal/store/postgres"
	"github.com/jrsteele09/iiif-auth-server/internal/telemetry"
	"github.com/jrsteele09/iiif-auth-server/secrets"
	"github.com/jrsteele09/iiif-auth-server/server"
	"github.com/jrsteele09/iiif-auth-server/sessions"
	sessionrepofakes "github.com/jrsteele09/iiif-auth-server/sessions/repofakes"
	"github.com/jrsteele09/iiif-auth-server/tenants"
	tenantrepofakes "github.com/jrsteele09/iiif-auth-server/tenants/repofakes"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Err(err).Msg("Error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry := telemetry.Setup(ctx, c.GetAppName())
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Err(err).Msg("Failed to shut down telemetry")
		}
	}()

	tenantRepo, sessionRepo, closeStores, err := openStores(ctx, c)
	if err != nil {
		return err
	}
	defer closeStores()

	handler, err := newHandler(c, tenantRepo, sessionRepo)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           otelhttp.NewHandler(handler, c.GetAppName()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(httpServer) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

// openStores connects to Postgres when DATABASE_URL is set and falls back to
// in-memory repositories otherwise.
func openStores(ctx context.Context, c config.Config) (tenants.Repo, sessions.Repo, func(), error) {
	dsn := c.GetDatabaseURL()
	if dsn == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory stores")
		tenantRepo := tenantrepofakes.NewFakeTenantRepo()
		if strings.EqualFold(c.GetEnv(), "DEV") {
			tenantRepo.UpsertAccessService(tenants.AccessService{
				CustomerID:   1,
				Name:         "clickthrough",
				Profile:      "active",
				Heading:      "Terms of use",
				Note:         "Please accept the terms of use to view this content",
				ConfirmLabel: "Accept",
			}, "clickthrough")
		}
		return tenantRepo, sessionrepofakes.NewFakeSessionRepo(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return postgres.NewTenantStore(pool), postgres.NewSessionStore(pool), pool.Close, nil
}

func newHandler(c config.Config, tenantRepo tenants.Repo, sessionRepo sessions.Repo) (http.Handler, error) {
	cachedTenants := tenants.NewCachedRepo(tenantRepo, c.GetConfigCacheTTL())
	carrier := credentials.NewCarrier(c.GetCookieNamePrefix(), c.GetSessionTTL(), cachedTenants)

	manager, err := sessions.NewManager(sessionRepo, carrier, sessions.SettingsFromConfig(c))
	if err != nil {
		return nil, fmt.Errorf("sessions.NewManager: %w", err)
	}

	identity := idp.NewClient(secrets.NewResolver(), idp.WithHTTPClient(&http.Client{
		Timeout:   c.GetIdpTimeout(),
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}))

	orchestrator, err := auth.NewOrchestrator(auth.Deps{
		Tenants:  cachedTenants,
		Sessions: manager,
		Trust:    domains.NewTrust(cachedTenants),
		Identity: identity,
	})
	if err != nil {
		return nil, fmt.Errorf("auth.NewOrchestrator: %w", err)
	}

	return server.New(c, server.Services{Flow: orchestrator, Sessions: manager})
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if strings.EqualFold(c.GetEnv(), "DEV") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
