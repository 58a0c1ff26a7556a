package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/cart"
	"github.com/ariefcatur/ramro-storefront/internal/catalog"
	"github.com/ariefcatur/ramro-storefront/internal/checkout"
	"github.com/ariefcatur/ramro-storefront/internal/config"
	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/httpx"
	"github.com/ariefcatur/ramro-storefront/internal/inventory"
	kafkax "github.com/ariefcatur/ramro-storefront/internal/kafka"
	"github.com/ariefcatur/ramro-storefront/internal/logging"
	"github.com/ariefcatur/ramro-storefront/internal/metrics"
	"github.com/ariefcatur/ramro-storefront/internal/notify"
	"github.com/ariefcatur/ramro-storefront/internal/orders"
	"github.com/ariefcatur/ramro-storefront/internal/payment"
	"github.com/ariefcatur/ramro-storefront/internal/postgres"
	"github.com/ariefcatur/ramro-storefront/internal/redisx"
	"github.com/ariefcatur/ramro-storefront/internal/reviews"
	"github.com/ariefcatur/ramro-storefront/internal/wishlist"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load("storefront-api")
	logging.Setup(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(cfg.ServiceName)

	// Store
	var store docstore.Store
	if cfg.StoreDriver == "postgres" {
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
		store = docstore.NewPostgres(pool)
	} else {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		store = docstore.NewMemory(nil)
	}

	// Redis: checkout guard, low-stock window and the order status cache.
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	var (
		guard  checkout.Guard = checkout.NewMemoryGuard()
		gate   inventory.LowStockGate
		status *redisx.StatusCache
	)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable; using in-process guard")
	} else {
		guard = redisx.NewGuard(rdb, redisx.ForPaymentTimeout(cfg.PaymentTimeout))
		gate = redisx.NewLowStockGate(rdb)
		status = redisx.NewStatusCache(rdb)
	}

	// Notifications
	var (
		sender   notify.Sender = notify.LogSender{}
		shutdown func()
	)
	switch cfg.NotifyTransport {
	case "kafka":
		// The producer outlives the signal so in-flight checkouts can still publish.
		pctx, pcancel := context.WithCancel(context.Background())
		prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
		prod.Start(pctx)
		sender = notify.NewKafkaSender(prod, cfg.ServiceName, nil)
		shutdown = func() {
			prod.Close()
			prod.WaitClosed()
			pcancel()
		}
	case "amqp":
		s, err := notify.DialAMQP(cfg.RabbitMQURL, cfg.AMQPExchange, cfg.ServiceName)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq")
		}
		sender = s
		shutdown = func() { _ = s.Close() }
	}

	ledgerOpts := []inventory.Option{
		inventory.WithThreshold(cfg.LowStockThreshold),
		inventory.WithSender(sender),
		inventory.WithMetrics(m),
	}
	if gate != nil {
		ledgerOpts = append(ledgerOpts, inventory.WithGate(gate))
	}
	ledger := inventory.NewLedger(store, ledgerOpts...)
	orderSvc := orders.NewService(store, sender, nil, m)
	ledger.SetFinalizer(orderSvc)

	products := catalog.NewRepo(store, nil)
	carts := cart.NewService(store, products, nil)
	hub := payment.NewHub(cfg.WebhookSecret, nil)
	if cfg.WebhookSecret == "" {
		log.Warn().Msg("PAYMENT_WEBHOOK_SECRET is empty; payment webhooks will be rejected")
	}
	orch := checkout.New(ledger, products, orderSvc, carts, hub,
		checkout.WithGuard(guard),
		checkout.WithSender(sender),
		checkout.WithMetrics(m),
		checkout.WithPaymentTimeout(cfg.PaymentTimeout),
		checkout.WithCurrency(cfg.Currency),
	)

	router := httpx.NewRouter(m)
	api := &httpx.API{
		Catalog:    products,
		Reviews:    reviews.NewService(store, products, orderSvc, nil),
		Carts:      carts,
		Wishlists:  wishlist.NewService(store, nil),
		Checkout:   orch,
		Payments:   hub,
		Orders:     orderSvc,
		Ledger:     ledger,
		Status:     status,
		AdminToken: cfg.AdminToken,
	}
	api.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	// A memory store is private to this process, so nobody else can sweep it.
	if cfg.StoreDriver == "memory" {
		g.Go(func() error {
			return ledger.RunSweeper(gctx, cfg.SweepInterval, cfg.ReservationTTL)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	orch.Wait()
	carts.Flush()
	if shutdown != nil {
		shutdown()
	}
	if err != nil {
		log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}
