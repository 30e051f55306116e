package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gocluster/internal/auth"
	"github.com/Tyrowin/gocluster/internal/broker"
	"github.com/Tyrowin/gocluster/internal/bus"
	"github.com/Tyrowin/gocluster/internal/chat"
	"github.com/Tyrowin/gocluster/internal/config"
	"github.com/Tyrowin/gocluster/internal/logger"
	"github.com/Tyrowin/gocluster/internal/profile"
	"github.com/Tyrowin/gocluster/internal/server"
)

type appConfig struct {
	Log      logger.Config
	Broker   broker.Config
	Auth     auth.Config
	Profiles profile.PostgresConfig
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gocluster: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var app appConfig
	if err := config.Load(&app); err != nil {
		return err
	}
	srvCfg, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}

	log := logger.New(logger.FromConfig(app.Log)...)
	slog.SetDefault(log)

	b, err := broker.Open(ctx, app.Broker)
	if err != nil {
		return fmt.Errorf("open broker: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn("closing broker failed", logger.Error(err))
		}
	}()

	verifier, err := auth.NewVerifierFromConfig(app.Auth)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(log),
		server.WithVerifier(verifier),
		server.WithCustomHandler(func(_ context.Context, ev *bus.Custom) {
			log.Info("custom event", slog.String("name", ev.Name), logger.WorkerID(ev.WorkerID))
		}),
	}

	store, closeStore, err := openProfiles(ctx, app.Profiles, b, log)
	if err != nil {
		return err
	}
	defer closeStore()
	if store != nil {
		opts = append(opts, server.WithProfiles(store))
	}

	eventBus := bus.New(b, srvCfg.WorkerID, bus.WithLogger(log), bus.WithPrefix(srvCfg.ChannelPrefix))
	srv, err := server.New(srvCfg, eventBus, opts...)
	if err != nil {
		return err
	}
	srv.Mount(chat.New(srv))

	if err := srv.Start(ctx); err != nil {
		return err
	}

	httpServer := server.CreateServer(srv.Config().Port, srv.Mux())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", slog.String("addr", httpServer.Addr), slog.String("worker_id", srv.WorkerID()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), srv.Config().ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Stop(stopCtx); err != nil {
			errs = append(errs, err)
		}
		if err := server.ShutdownServer(httpServer, srv.Config().ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// openProfiles returns nil when no profile database is configured. With the
// redis broker, lookups are cached on the broker's client.
func openProfiles(ctx context.Context, cfg profile.PostgresConfig, b broker.Broker, log *slog.Logger) (profile.Store, func(), error) {
	if cfg.ConnectionString == "" {
		return nil, func() {}, nil
	}

	pool, err := profile.ConnectPostgres(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var store profile.Store = profile.NewPostgresStore(pool)
	if rb, ok := b.(*broker.Redis); ok {
		store = profile.NewCachedStore(store, rb.Client(), cfg.CacheTTL, log)
	}
	return store, pool.Close, nil
}
