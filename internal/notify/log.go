package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogSender writes events to the log. Used when no broker is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, ev Event) error {
	log.Info().Str("event_type", string(ev.Kind())).Str("key", ev.Key()).Interface("event", ev).Msg("notification")
	return nil
}
