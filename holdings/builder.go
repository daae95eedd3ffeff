// Package holdings reconstructs an account's current holdings from the
// registry's transfer log. The log only proves that a transfer happened
// at some point; every candidate is re-checked against live ownership
// before it is reported.
package holdings

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog"

	"github.com/deedmark/deed-trade/registry"
)

// Holding is one token currently owned by an account. It is derived on
// demand and never persisted; the registry stays the source of truth.
type Holding struct {
	TokenID     string `json:"token_id"`
	Owner       string `json:"owner"`
	MetadataRef string `json:"metadata_ref"`
}

// Registry is the slice of the registry contract the builder needs.
type Registry interface {
	OwnerOf(ctx context.Context, tokenID string) (string, error)
	TokenURI(ctx context.Context, tokenID string) (string, error)
	TransferEventsTo(ctx context.Context, account string, fromBlock, toBlock *big.Int) ([]registry.TransferEvent, error)
}

type Builder struct {
	reg Registry
	log zerolog.Logger
}

func NewBuilder(reg Registry, log zerolog.Logger) *Builder {
	return &Builder{reg: reg, log: log}
}

// ResolveHoldings returns the verified holding set for account. The scan
// deduplicates tokens by first event occurrence, then keeps a token only
// if the registry's live owner still equals account. A failure on one
// token skips that token; only a failed event-log query fails the call.
func (b *Builder) ResolveHoldings(ctx context.Context, account string) ([]Holding, error) {
	account = strings.ToLower(account)

	events, err := b.reg.TransferEventsTo(ctx, account, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("scan transfers to %s: %w", account, err)
	}

	out := make([]Holding, 0, len(events))
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		if seen[ev.TokenID] {
			continue
		}
		seen[ev.TokenID] = true

		// The event is history, not fact. Only the point query decides.
		owner, err := b.reg.OwnerOf(ctx, ev.TokenID)
		if err != nil {
			b.log.Debug().Str("token", ev.TokenID).Err(err).Msg("skipping unverifiable token")
			continue
		}
		if !strings.EqualFold(owner, account) {
			continue
		}

		uri, err := b.reg.TokenURI(ctx, ev.TokenID)
		if err != nil {
			b.log.Debug().Str("token", ev.TokenID).Err(err).Msg("skipping token without metadata ref")
			continue
		}

		out = append(out, Holding{
			TokenID:     ev.TokenID,
			Owner:       account,
			MetadataRef: uri,
		})
	}

	return out, nil
}
