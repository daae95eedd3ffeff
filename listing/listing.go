// Package listing keeps the off-chain trade coordination ledger. A
// listing proposes a sale; payment and asset transfer settle separately,
// and the interval between them is tracked as an explicit state rather
// than hidden. The ledger is advisory: the registry decides ownership.
package listing

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

type Status string

const (
	StatusActive      Status = "active"
	StatusSold        Status = "sold"
	StatusTransferred Status = "transferred"
	StatusCancelled   Status = "cancelled"
)

var (
	ErrInvalidPrice           = errors.New("invalid listing price")
	ErrDuplicateActiveListing = errors.New("token already has an active listing")
	ErrListingNotActive       = errors.New("listing is not active")
)

// Listing is one sale proposal. Identity is (TokenID, Seller, CreatedAt);
// state only ever advances along the machine below.
type Listing struct {
	TokenID       string `json:"token_id"`
	Seller        string `json:"seller"`
	Price         string `json:"price"`
	CreatedAt     int64  `json:"created_at"`
	Status        Status `json:"status"`
	Buyer         string `json:"buyer,omitempty"`
	PaymentTxRef  string `json:"payment_tx_ref,omitempty"`
	SoldAt        int64  `json:"sold_at,omitempty"`
	TransferredAt int64  `json:"transferred_at,omitempty"`
	CancelledAt   int64  `json:"cancelled_at,omitempty"`
}

func (l *Listing) Key() string {
	return fmt.Sprintf("%s|%s|%d", l.TokenID, l.Seller, l.CreatedAt)
}

// Record is one append-only ledger entry: a full listing snapshot at the
// moment of a transition. Listings are never deleted or edited in place.
type Record struct {
	ID         string  `json:"id"`
	RecordedAt int64   `json:"recorded_at"`
	Listing    Listing `json:"listing"`
}

// validTransition is the whole state machine. Active and Sold each admit
// exactly the moves the trade protocol allows; terminals admit none.
func validTransition(from, to Status) bool {
	switch from {
	case StatusActive:
		return to == StatusSold || to == StatusCancelled
	case StatusSold:
		return to == StatusTransferred
	}
	return false
}

// fold replays records in append order into current listing state.
// Records that do not describe a valid transition from the state seen so
// far are ignored, so a half-written or replayed log converges to the
// same view.
func fold(recs []Record) map[string]*Listing {
	out := make(map[string]*Listing)
	for _, rec := range recs {
		l := rec.Listing
		cur, ok := out[l.Key()]
		if !ok {
			if l.Status == StatusActive {
				snap := l
				out[l.Key()] = &snap
			}
			continue
		}
		if validTransition(cur.Status, l.Status) {
			snap := l
			out[l.Key()] = &snap
		}
	}
	return out
}

// maxPriceDecimals matches the payment token's fixed-point precision.
// A price the token cannot represent must be rejected at creation, not
// at checkout.
const maxPriceDecimals = 18

// validPrice accepts positive plain decimal strings only; no signs,
// exponents, or rationals.
func validPrice(s string) bool {
	if s == "" || strings.Count(s, ".") > 1 {
		return false
	}
	for _, c := range s {
		if c != '.' && (c < '0' || c > '9') {
			return false
		}
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > maxPriceDecimals {
		return false
	}
	r, ok := new(big.Rat).SetString(s)
	return ok && r.Sign() > 0
}
