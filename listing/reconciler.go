package listing

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const maxBackoffFactor = 8

// Reconciler runs global transfer reconciliation on a timer. Registry
// trouble stretches the interval up to 8x; a clean pass resets it.
type Reconciler struct {
	ledger   *Ledger
	interval time.Duration
	log      zerolog.Logger
}

func NewReconciler(ledger *Ledger, interval time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{ledger: ledger, interval: interval, log: log}
}

func (r *Reconciler) Run(ctx context.Context) {
	wait := r.interval
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		transitioned, err := r.ledger.ReconcileTransfers(ctx, "")
		if err != nil {
			if wait *= 2; wait > maxBackoffFactor*r.interval {
				wait = maxBackoffFactor * r.interval
			}
			r.log.Warn().Err(err).Dur("next_poll", wait).Msg("reconciliation pass degraded")
		} else {
			wait = r.interval
		}
		if len(transitioned) > 0 {
			r.log.Info().Int("settled", len(transitioned)).Msg("reconciliation pass complete")
		}

		timer.Reset(wait)
	}
}
