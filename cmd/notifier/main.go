package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/ramro-storefront/internal/config"
	kafkax "github.com/ariefcatur/ramro-storefront/internal/kafka"
	"github.com/ariefcatur/ramro-storefront/internal/logging"
	"github.com/ariefcatur/ramro-storefront/internal/notify"
	"github.com/ariefcatur/ramro-storefront/internal/redisx"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// The notifier turns order and inventory events from Kafka into mails.
func main() {
	cfg, err := config.Load("storefront-notifier")
	logging.Setup(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.MailerURL != "" {
		mailer = &notify.HTTPMailer{URL: cfg.MailerURL}
	}
	d := &notify.Dispatcher{
		Mailer:     mailer,
		AdminEmail: cfg.AdminEmail,
		Dedup:      redisx.NewDedup(rdb, cfg.ServiceName),
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, notify.Topics, cfg.NotifierWorkers)
	log.Info().
		Str("group", cfg.NotifierGroup).
		Strs("topics", notify.Topics).
		Int("workers", cfg.NotifierWorkers).
		Msg("notifier consumer started")
	err = cons.Start(ctx, func(ctx context.Context, m kafka.Message) error {
		return d.Handle(ctx, m.Value)
	})
	if err != nil {
		log.Error().Err(err).Msg("consumer exit")
	}
	log.Info().Msg("notifier stopped")
}
