package notify

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/ramro-storefront/internal/kafka"
	"github.com/rs/zerolog/log"
)

// Deduper remembers processed event ids. MarkSeen reports true when the id
// was already recorded.
type Deduper interface {
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Dispatcher turns envelopes off the bus into mails.
type Dispatcher struct {
	Mailer     Mailer
	AdminEmail string
	// Dedup is optional. Without it redelivered events are mailed again.
	Dedup Deduper
}

// Handle processes one envelope. Malformed or unknown events are logged and
// dropped so they do not block the partition; a nil return means the
// message may be committed.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) error {
	var env Envelope
	if err := kafkax.UnmarshalEnvelope(body, &env); err != nil {
		log.Error().Err(err).Msg("dropping malformed envelope")
		return nil
	}
	ev, err := Unwrap(env)
	if err != nil {
		log.Error().Err(err).Str("event_id", env.EventID).Msg("dropping event")
		return nil
	}
	m, err := Render(ev, d.AdminEmail)
	if err != nil {
		log.Error().Err(err).Str("event_id", env.EventID).Str("event_type", string(env.EventType)).Msg("render failed")
		return nil
	}

	if d.Dedup != nil {
		seen, err := d.Dedup.MarkSeen(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", env.EventID, err)
		}
		if seen {
			log.Debug().Str("event_id", env.EventID).Msg("duplicate event")
			return nil
		}
	}

	if err := d.Mailer.Deliver(ctx, m); err != nil {
		if d.Dedup != nil {
			if ferr := d.Dedup.Forget(ctx, env.EventID); ferr != nil {
				log.Warn().Err(ferr).Str("event_id", env.EventID).Msg("forget dedup mark")
			}
		}
		return fmt.Errorf("deliver %s: %w", env.EventType, err)
	}
	log.Info().
		Str("event_id", env.EventID).
		Str("event_type", string(env.EventType)).
		Str("to", m.To).
		Msg("mail sent")
	return nil
}
