// Package registry talks to the authoritative ownership contracts. The
// registry contract is the single arbiter of who owns a token; everything
// this service stores locally is advisory and loses on disagreement.
package registry

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrTokenNotFound means the registry rejected the token identifier,
	// typically because it was never minted or has been burned. Terminal
	// for that token; bulk operations skip and continue.
	ErrTokenNotFound = errors.New("token not found in registry")

	// ErrUnavailable means the registry could not be queried at all.
	// Transient and retryable.
	ErrUnavailable = errors.New("registry unavailable")
)

// TransferEvent is one entry of the registry's append-only transfer log,
// ordered by (BlockNumber, LogIndex).
type TransferEvent struct {
	TokenID     string
	BlockNumber uint64
	LogIndex    uint
}

// Registry is the narrow view of the asset registry contract. There is
// no enumeration primitive: only the transfer log and point queries.
type Registry interface {
	OwnerOf(ctx context.Context, tokenID string) (string, error)
	TokenURI(ctx context.Context, tokenID string) (string, error)
	TransferEventsTo(ctx context.Context, account string, fromBlock, toBlock *big.Int) ([]TransferEvent, error)
	SubmitTransfer(ctx context.Context, to, tokenID string) (string, error)
}

// PaymentToken is the narrow view of the fungible payment token.
// Account identifies the service's own spending address.
type PaymentToken interface {
	Account() string
	BalanceOf(ctx context.Context, account string) (*big.Int, error)
	Transfer(ctx context.Context, to string, amount *big.Int) (string, error)
}
