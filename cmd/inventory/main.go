package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/config"
	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/inventory"
	"github.com/ariefcatur/ramro-storefront/internal/logging"
	"github.com/ariefcatur/ramro-storefront/internal/metrics"
	"github.com/ariefcatur/ramro-storefront/internal/orders"
	"github.com/ariefcatur/ramro-storefront/internal/postgres"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// The inventory worker releases holds whose checkout was abandoned and
// commits the ones whose order landed but whose commit never ran.
func main() {
	cfg, err := config.Load("storefront-inventory")
	logging.Setup(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.StoreDriver != "postgres" {
		log.Fatal().Str("driver", cfg.StoreDriver).Msg("the sweeper needs a shared store; the API sweeps its own memory store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	store := docstore.NewPostgres(pool)

	m := metrics.New(cfg.ServiceName)
	orderSvc := orders.NewService(store, nil, nil, m)
	ledger := inventory.NewLedger(store,
		inventory.WithThreshold(cfg.LowStockThreshold),
		inventory.WithFinalizer(orderSvc),
		inventory.WithMetrics(m),
	)

	// Metrics only.
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Dur("interval", cfg.SweepInterval).
			Dur("ttl", cfg.ReservationTTL).
			Msg("reservation sweeper started")
		return ledger.RunSweeper(gctx, cfg.SweepInterval, cfg.ReservationTTL)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("inventory worker exit")
	}
	log.Info().Msg("inventory worker stopped")
}
