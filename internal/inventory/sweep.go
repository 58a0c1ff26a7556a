package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/rs/zerolog/log"
)

type SweepResult struct {
	Released  int
	Committed int
}

// SweepExpired settles every hold older than ttl. Holds whose checkout already
// produced an order are committed; the rest are released.
func (l *Ledger) SweepExpired(ctx context.Context, ttl time.Duration) (SweepResult, error) {
	var total SweepResult
	docs, err := l.store.Query(ctx, docstore.KindProducts, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("reservedQuantity", docstore.OpGt, 0)},
	})
	if err != nil {
		return total, fmt.Errorf("sweep: %w", err)
	}

	cutoff := l.clock.Now().Add(-ttl)
	finalized := map[string]bool{}
	unknown := map[string]bool{}
	var errs []error
	for _, doc := range docs {
		var p domain.Product
		if err := doc.Decode(&p); err != nil {
			errs = append(errs, err)
			continue
		}
		commit := map[string]bool{}
		for id, h := range p.Holds {
			if h.CreatedAt.After(cutoff) {
				continue
			}
			if unknown[h.Key] {
				continue
			}
			done, seen := finalized[h.Key]
			if !seen {
				var err error
				if done, err = l.isFinalized(ctx, h.Key); err != nil {
					// Keep the hold for the next pass rather than guess.
					log.Warn().Err(err).Str("checkout_key", h.Key).Msg("finalizer lookup failed")
					unknown[h.Key] = true
					continue
				}
				finalized[h.Key] = done
			}
			commit[id] = done
		}
		if len(commit) == 0 {
			continue
		}
		res, err := l.settle(ctx, doc.ID, commit)
		if err != nil {
			errs = append(errs, err)
		}
		total.Released += res.Released
		total.Committed += res.Committed
	}

	l.metrics.Swept("released", total.Released)
	l.metrics.Swept("committed", total.Committed)
	if total.Released+total.Committed > 0 {
		log.Info().Int("released", total.Released).Int("committed", total.Committed).Msg("expired holds settled")
	}
	return total, errors.Join(errs...)
}

// settle applies the sweep decision for one product in a single write. Holds
// that disappeared since the query are skipped.
func (l *Ledger) settle(ctx context.Context, productID string, commit map[string]bool) (SweepResult, error) {
	var res SweepResult
	err := l.withRetry(ctx, func() error {
		p, changed, err := l.mutate(ctx, productID, func(p *domain.Product, _ time.Time) (bool, error) {
			res = SweepResult{}
			for id, toCommit := range commit {
				h, ok := p.Holds[id]
				if !ok {
					continue
				}
				delete(p.Holds, id)
				p.ReservedQuantity -= h.Quantity
				if toCommit {
					res.Committed++
					continue
				}
				p.QuantityAvailable += h.Quantity
				res.Released++
			}
			return res.Released+res.Committed > 0, nil
		})
		if err == nil && changed {
			l.checkLowStock(ctx, p)
		}
		return err
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweep %s: %w", productID, err)
	}
	return res, nil
}

func (l *Ledger) isFinalized(ctx context.Context, key string) (bool, error) {
	if l.finalizer == nil || key == "" {
		return false, nil
	}
	return l.finalizer.Finalized(ctx, key)
}

// RunSweeper sweeps every interval until ctx is done.
func (l *Ledger) RunSweeper(ctx context.Context, interval, ttl time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := l.SweepExpired(ctx, ttl); err != nil {
				log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
