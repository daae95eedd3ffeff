package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Decimals of the payment token's fixed-point representation.
const Decimals = 18

const paymentGasLimit = 90000

// TokenClient implements PaymentToken against an ERC-20 contract.
type TokenClient struct {
	eth      *ethclient.Client
	contract common.Address
	abi      abi.ABI
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	log      zerolog.Logger
}

func DialToken(endpoint, contract string, chainID int64, keyHex string, log zerolog.Logger) (*TokenClient, error) {
	eth, err := ethclient.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, err
	}

	c := &TokenClient{
		eth:      eth,
		contract: common.HexToAddress(contract),
		abi:      parsed,
		chainID:  big.NewInt(chainID),
		log:      log,
	}

	if keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("bad payment key: %w", err)
		}
		c.key = key
	}

	return c, nil
}

// Account is the payer address derived from the configured key, or empty
// when payments are signed externally.
func (c *TokenClient) Account() string {
	if c.key == nil {
		return ""
	}
	return strings.ToLower(crypto.PubkeyToAddress(c.key.PublicKey).Hex())
}

func (c *TokenClient) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	data, err := c.abi.Pack("balanceOf", common.HexToAddress(account))
	if err != nil {
		return nil, err
	}

	res, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w: %v", account, ErrUnavailable, err)
	}

	out, err := c.abi.Unpack("balanceOf", res)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("balanceOf %s: %w: bad result", account, ErrUnavailable)
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf %s: %w: bad result", account, ErrUnavailable)
	}
	return bal, nil
}

// Transfer signs and submits an ERC-20 transfer with the configured key
// and returns the transaction hash.
func (c *TokenClient) Transfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	if c.key == nil {
		return "", errors.New("payment key not configured; sign and submit externally")
	}

	data, err := c.abi.Pack("transfer", common.HexToAddress(to), amount)
	if err != nil {
		return "", err
	}
	from := crypto.PubkeyToAddress(c.key.PublicKey)

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
		Gas:      paymentGasLimit,
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

	c.log.Info().Str("to", strings.ToLower(to)).Str("amount", FormatUnits(amount)).
		Str("tx", signed.Hash().Hex()).Msg("payment submitted")
	return signed.Hash().Hex(), nil
}

// ParseUnits converts a non-negative decimal string like "10.5" to the
// token's smallest unit.
func ParseUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, fmt.Errorf("invalid amount %q", s)
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, Decimals)
	}
	frac += strings.Repeat("0", Decimals-len(frac))

	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

// FormatUnits renders a smallest-unit amount as a decimal string.
func FormatUnits(n *big.Int) string {
	q, r := new(big.Int).QuoRem(n, new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil), new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	frac := r.String()
	frac = strings.Repeat("0", Decimals-len(frac)) + frac
	return q.String() + "." + strings.TrimRight(frac, "0")
}
