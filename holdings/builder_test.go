package holdings

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedmark/deed-trade/registry"
)

type fakeRegistry struct {
	owners    map[string]string
	uris      map[string]string
	events    []registry.TransferEvent
	eventsErr error
	ownerErrs map[string]error
}

func (f *fakeRegistry) OwnerOf(_ context.Context, tokenID string) (string, error) {
	if err := f.ownerErrs[tokenID]; err != nil {
		return "", err
	}
	owner, ok := f.owners[tokenID]
	if !ok {
		return "", registry.ErrTokenNotFound
	}
	return owner, nil
}

func (f *fakeRegistry) TokenURI(_ context.Context, tokenID string) (string, error) {
	if uri, ok := f.uris[tokenID]; ok {
		return uri, nil
	}
	return "ipfs://meta-" + tokenID, nil
}

func (f *fakeRegistry) TransferEventsTo(_ context.Context, _ string, _, _ *big.Int) ([]registry.TransferEvent, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events, nil
}

const (
	alice = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func newBuilder(f *fakeRegistry) *Builder {
	return NewBuilder(f, zerolog.Nop())
}

func TestResolveHoldingsVerifiesLiveOwnership(t *testing.T) {
	f := &fakeRegistry{
		owners: map[string]string{"1": alice, "2": bob},
		events: []registry.TransferEvent{
			{TokenID: "1", BlockNumber: 10, LogIndex: 0},
			{TokenID: "2", BlockNumber: 11, LogIndex: 0},
		},
	}

	hs, err := newBuilder(f).ResolveHoldings(context.Background(), alice)
	require.NoError(t, err)

	// Token 2 was once transferred to alice but lives with bob now; the
	// event log alone must never put it in the result.
	require.Len(t, hs, 1)
	assert.Equal(t, "1", hs[0].TokenID)
	assert.Equal(t, alice, hs[0].Owner)
	assert.Equal(t, "ipfs://meta-1", hs[0].MetadataRef)
}

func TestResolveHoldingsTransferredAwayAndBack(t *testing.T) {
	f := &fakeRegistry{
		owners: map[string]string{"7": alice},
		events: []registry.TransferEvent{
			{TokenID: "7", BlockNumber: 1, LogIndex: 0},
			{TokenID: "7", BlockNumber: 9, LogIndex: 3},
		},
	}

	hs, err := newBuilder(f).ResolveHoldings(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, "7", hs[0].TokenID)
}

func TestResolveHoldingsExcludesTokenSentAway(t *testing.T) {
	f := &fakeRegistry{
		owners: map[string]string{"5": bob},
		events: []registry.TransferEvent{{TokenID: "5", BlockNumber: 2, LogIndex: 0}},
	}

	hs, err := newBuilder(f).ResolveHoldings(context.Background(), alice)
	require.NoError(t, err)
	assert.Empty(t, hs)
}

func TestResolveHoldingsSkipsUnverifiableToken(t *testing.T) {
	f := &fakeRegistry{
		owners: map[string]string{"4": alice},
		events: []registry.TransferEvent{
			{TokenID: "3", BlockNumber: 1, LogIndex: 0},
			{TokenID: "4", BlockNumber: 2, LogIndex: 0},
		},
		ownerErrs: map[string]error{"3": registry.ErrTokenNotFound},
	}

	hs, err := newBuilder(f).ResolveHoldings(context.Background(), alice)
	require.NoError(t, err, "one bad token must not fail the whole index")
	require.Len(t, hs, 1)
	assert.Equal(t, "4", hs[0].TokenID)
}

func TestResolveHoldingsTimeoutSkipsToken(t *testing.T) {
	f := &fakeRegistry{
		owners: map[string]string{"8": alice},
		events: []registry.TransferEvent{
			{TokenID: "6", BlockNumber: 1, LogIndex: 0},
			{TokenID: "8", BlockNumber: 2, LogIndex: 0},
		},
		ownerErrs: map[string]error{"6": context.DeadlineExceeded},
	}

	hs, err := newBuilder(f).ResolveHoldings(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, "8", hs[0].TokenID)
}

func TestResolveHoldingsRegistryUnavailable(t *testing.T) {
	f := &fakeRegistry{eventsErr: registry.ErrUnavailable}

	_, err := newBuilder(f).ResolveHoldings(context.Background(), alice)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrUnavailable))
}

func TestResolveHoldingsMixedCaseAccount(t *testing.T) {
	f := &fakeRegistry{
		owners: map[string]string{"1": alice},
		events: []registry.TransferEvent{{TokenID: "1", BlockNumber: 1, LogIndex: 0}},
	}

	hs, err := newBuilder(f).ResolveHoldings(context.Background(), strings.ToUpper(alice))
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, alice, hs[0].Owner)
}
