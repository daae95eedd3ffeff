package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const erc721ABI = `[
	{"name":"ownerOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"tokenURI","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]}
]`

const transferGasLimit = 150000

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Client implements Registry against an ERC-721 contract over JSON-RPC.
type Client struct {
	eth      *ethclient.Client
	contract common.Address
	abi      abi.ABI
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	log      zerolog.Logger
}

// Dial connects to the chain RPC endpoint. keyHex is the optional hex
// private key used to sign SubmitTransfer transactions; when empty,
// SubmitTransfer reports that signing is external.
func Dial(endpoint, contract string, chainID int64, keyHex string, log zerolog.Logger) (*Client, error) {
	eth, err := ethclient.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, err
	}

	c := &Client{
		eth:      eth,
		contract: common.HexToAddress(contract),
		abi:      parsed,
		chainID:  big.NewInt(chainID),
		log:      log,
	}

	if keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("bad transfer key: %w", err)
		}
		c.key = key
	}

	return c, nil
}

func (c *Client) OwnerOf(ctx context.Context, tokenID string) (string, error) {
	out, err := c.call(ctx, "ownerOf", tokenID)
	if err != nil {
		return "", err
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("%w: unexpected ownerOf result", ErrUnavailable)
	}
	return strings.ToLower(owner.Hex()), nil
}

func (c *Client) TokenURI(ctx context.Context, tokenID string) (string, error) {
	out, err := c.call(ctx, "tokenURI", tokenID)
	if err != nil {
		return "", err
	}
	uri, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: unexpected tokenURI result", ErrUnavailable)
	}
	return uri, nil
}

// TransferEventsTo scans the transfer log for events whose destination is
// account, ordered by (block, logIndex). Nil bounds mean genesis/latest.
func (c *Client) TransferEventsTo(ctx context.Context, account string, fromBlock, toBlock *big.Int) ([]TransferEvent, error) {
	toAddr := common.HexToAddress(account)
	query := ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{c.contract},
		Topics: [][]common.Hash{
			{transferTopic},
			nil,
			{common.BytesToHash(common.LeftPadBytes(toAddr.Bytes(), 32))},
		},
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: filter transfer events: %v", ErrUnavailable, err)
	}

	events := make([]TransferEvent, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 4 {
			// ERC-20 style Transfer on the wrong contract; not ours.
			continue
		}
		events = append(events, TransferEvent{
			TokenID:     l.Topics[3].Big().String(),
			BlockNumber: l.BlockNumber,
			LogIndex:    l.Index,
		})
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	return events, nil
}

// SubmitTransfer signs and submits transferFrom(holder, to, tokenID) with
// the configured key and returns the transaction hash. Confirmation is
// observed later through the ownership point query, never assumed here.
func (c *Client) SubmitTransfer(ctx context.Context, to, tokenID string) (string, error) {
	if c.key == nil {
		return "", errors.New("transfer key not configured; sign and submit externally")
	}

	id, err := parseTokenID(tokenID)
	if err != nil {
		return "", err
	}
	from := crypto.PubkeyToAddress(c.key.PublicKey)

	data, err := c.abi.Pack("transferFrom", from, common.HexToAddress(to), id)
	if err != nil {
		return "", err
	}

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", err
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.log.Info().Str("token", tokenID).Str("to", strings.ToLower(to)).
		Str("tx", signed.Hash().Hex()).Msg("transfer submitted")
	return signed.Hash().Hex(), nil
}

func (c *Client) call(ctx context.Context, method, tokenID string) ([]interface{}, error) {
	id, err := parseTokenID(tokenID)
	if err != nil {
		return nil, err
	}

	data, err := c.abi.Pack(method, id)
	if err != nil {
		return nil, err
	}

	res, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%s %s: %w", method, tokenID, ErrTokenNotFound)
		}
		return nil, fmt.Errorf("%s %s: %w: %v", method, tokenID, ErrUnavailable, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%s %s: %w", method, tokenID, ErrTokenNotFound)
	}

	out, err := c.abi.Unpack(method, res)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("%s %s: %w: bad result", method, tokenID, ErrUnavailable)
	}
	return out, nil
}

func parseTokenID(tokenID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}
	return id, nil
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "revert")
}
