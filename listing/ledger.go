package listing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OwnerQuerier is the registry point query the ledger uses to observe
// transfer completion.
type OwnerQuerier interface {
	OwnerOf(ctx context.Context, tokenID string) (string, error)
}

// Ledger coordinates the listing lifecycle over an append-only store.
// Writes are serialized per token, so unrelated listings never contend.
type Ledger struct {
	store  Store
	owners OwnerQuerier
	log    zerolog.Logger

	mu       sync.Mutex
	tokenMus map[string]*sync.Mutex
}

func New(store Store, owners OwnerQuerier, log zerolog.Logger) *Ledger {
	return &Ledger{
		store:    store,
		owners:   owners,
		log:      log,
		tokenMus: make(map[string]*sync.Mutex),
	}
}

func (g *Ledger) tokenMu(tokenID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	mu, ok := g.tokenMus[tokenID]
	if !ok {
		mu = &sync.Mutex{}
		g.tokenMus[tokenID] = mu
	}
	return mu
}

func (g *Ledger) snapshot() (map[string]*Listing, error) {
	recs, err := g.store.Records()
	if err != nil {
		return nil, fmt.Errorf("read listing log: %w", err)
	}
	return fold(recs), nil
}

func (g *Ledger) append(l *Listing) error {
	return g.store.Append(Record{
		ID:         uuid.NewString(),
		RecordedAt: time.Now().UnixNano(),
		Listing:    *l,
	})
}

// latestFor returns the most recently created listing for the pair, or
// nil. Only one can be Active at a time, but earlier terminal ones exist.
func latestFor(state map[string]*Listing, tokenID, seller string) *Listing {
	var latest *Listing
	for _, l := range state {
		if l.TokenID != tokenID || !strings.EqualFold(l.Seller, seller) {
			continue
		}
		if latest == nil || l.CreatedAt > latest.CreatedAt {
			latest = l
		}
	}
	return latest
}

// Create opens a new Active listing. At most one Active listing may
// exist per token, regardless of seller.
func (g *Ledger) Create(tokenID, seller, price string) (*Listing, error) {
	if !validPrice(price) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrice, price)
	}

	mu := g.tokenMu(tokenID)
	mu.Lock()
	defer mu.Unlock()

	state, err := g.snapshot()
	if err != nil {
		return nil, err
	}
	for _, l := range state {
		if l.TokenID == tokenID && l.Status == StatusActive {
			return nil, fmt.Errorf("%w: token %s", ErrDuplicateActiveListing, tokenID)
		}
	}

	l := &Listing{
		TokenID:   tokenID,
		Seller:    strings.ToLower(seller),
		Price:     price,
		CreatedAt: time.Now().UnixNano(),
		Status:    StatusActive,
	}
	if err := g.append(l); err != nil {
		return nil, err
	}

	g.log.Info().Str("token", tokenID).Str("seller", l.Seller).Str("price", price).Msg("listing created")
	return l, nil
}

// RecordPayment marks the Active listing for (tokenID, seller) as Sold.
// Retried calls with the same paymentTxRef return the Sold listing
// unchanged; paymentTxRef is the deduplication key.
func (g *Ledger) RecordPayment(tokenID, seller, buyer, paymentTxRef string) (*Listing, error) {
	mu := g.tokenMu(tokenID)
	mu.Lock()
	defer mu.Unlock()

	state, err := g.snapshot()
	if err != nil {
		return nil, err
	}

	// The tx ref deduplicates across the token's whole history, not just
	// the newest listing: a delayed retry arriving after a relist must
	// return the listing it already paid for, not sell the new one.
	if paymentTxRef != "" {
		for _, prev := range state {
			if prev.TokenID == tokenID && prev.PaymentTxRef == paymentTxRef {
				return prev, nil
			}
		}
	}

	l := latestFor(state, tokenID, seller)
	if l == nil {
		return nil, fmt.Errorf("%w: no listing for token %s by %s", ErrListingNotActive, tokenID, seller)
	}
	if l.Status != StatusActive {
		return nil, fmt.Errorf("%w: token %s is %s", ErrListingNotActive, tokenID, l.Status)
	}

	l.Status = StatusSold
	l.Buyer = strings.ToLower(buyer)
	l.PaymentTxRef = paymentTxRef
	l.SoldAt = time.Now().Unix()
	if err := g.append(l); err != nil {
		return nil, err
	}

	g.log.Info().Str("token", tokenID).Str("buyer", l.Buyer).Str("tx", paymentTxRef).Msg("payment recorded")
	return l, nil
}

// Cancel withdraws an Active listing. A Sold listing cannot be
// cancelled: payment is final once confirmed.
func (g *Ledger) Cancel(tokenID, seller string) (*Listing, error) {
	mu := g.tokenMu(tokenID)
	mu.Lock()
	defer mu.Unlock()

	state, err := g.snapshot()
	if err != nil {
		return nil, err
	}

	l := latestFor(state, tokenID, seller)
	if l == nil || l.Status != StatusActive {
		return nil, fmt.Errorf("%w: token %s by %s", ErrListingNotActive, tokenID, seller)
	}

	l.Status = StatusCancelled
	l.CancelledAt = time.Now().Unix()
	if err := g.append(l); err != nil {
		return nil, err
	}

	g.log.Info().Str("token", tokenID).Str("seller", l.Seller).Msg("listing cancelled")
	return l, nil
}

// ReconcileTransfers closes the trust gap: every Sold listing whose
// token the registry now attributes to the buyer becomes Transferred.
// An empty account reconciles everything. Safe to call repeatedly and
// concurrently; the only move it makes is monotonic and idempotent.
// The returned error reports registry trouble for the poller's backoff;
// listings that could not be checked are simply retried next round.
func (g *Ledger) ReconcileTransfers(ctx context.Context, account string) ([]Listing, error) {
	state, err := g.snapshot()
	if err != nil {
		return nil, err
	}

	var transitioned []Listing
	var lastErr error
	for _, l := range state {
		if l.Status != StatusSold {
			continue
		}
		if account != "" && !strings.EqualFold(l.Seller, account) {
			continue
		}

		owner, err := g.owners.OwnerOf(ctx, l.TokenID)
		if err != nil {
			g.log.Debug().Str("token", l.TokenID).Err(err).Msg("reconcile: ownership check failed")
			lastErr = err
			continue
		}
		if !strings.EqualFold(owner, l.Buyer) {
			continue
		}

		done, err := g.markTransferred(l.Key())
		if err != nil {
			return transitioned, err
		}
		if done != nil {
			transitioned = append(transitioned, *done)
			g.log.Info().Str("token", done.TokenID).Str("buyer", done.Buyer).Msg("transfer confirmed")
		}
	}

	return transitioned, lastErr
}

// markTransferred re-reads current state under the token lock so that a
// concurrent reconciliation or cancellation observed in between cannot
// be overwritten. Finding the listing already Transferred is a no-op.
func (g *Ledger) markTransferred(key string) (*Listing, error) {
	parts := strings.SplitN(key, "|", 2)
	mu := g.tokenMu(parts[0])
	mu.Lock()
	defer mu.Unlock()

	state, err := g.snapshot()
	if err != nil {
		return nil, err
	}
	l, ok := state[key]
	if !ok || l.Status != StatusSold {
		return nil, nil
	}

	l.Status = StatusTransferred
	l.TransferredAt = time.Now().Unix()
	if err := g.append(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Active returns all currently Active listings, oldest first.
func (g *Ledger) Active() ([]Listing, error) {
	return g.view(func(l *Listing) bool { return l.Status == StatusActive })
}

// BySeller returns every listing a seller has ever made, oldest first.
func (g *Ledger) BySeller(seller string) ([]Listing, error) {
	return g.view(func(l *Listing) bool { return strings.EqualFold(l.Seller, seller) })
}

// PendingTransfer returns listings paid for but not yet observed as
// transferred: the seller's open obligations and the buyer's awaited
// deliveries.
func (g *Ledger) PendingTransfer() ([]Listing, error) {
	return g.view(func(l *Listing) bool { return l.Status == StatusSold })
}

// ActiveForToken returns the Active listing on a token, if any.
func (g *Ledger) ActiveForToken(tokenID string) (*Listing, error) {
	state, err := g.snapshot()
	if err != nil {
		return nil, err
	}
	for _, l := range state {
		if l.TokenID == tokenID && l.Status == StatusActive {
			return l, nil
		}
	}
	return nil, nil
}

// History returns the raw audit trail for a token in append order.
func (g *Ledger) History(tokenID string) ([]Record, error) {
	recs, err := g.store.Records()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rec := range recs {
		if rec.Listing.TokenID == tokenID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (g *Ledger) view(keep func(*Listing) bool) ([]Listing, error) {
	state, err := g.snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(state))
	for _, l := range state {
		if keep(l) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}
