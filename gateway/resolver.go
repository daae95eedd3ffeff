package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// Scheme is the content-address scheme used in envelope refs.
const Scheme = "ipfs"

// ErrContentUnavailable is returned by Fetch after every configured
// gateway has been tried and failed.
var ErrContentUnavailable = errors.New("content unavailable on all gateways")

const cacheSize = 128

// Resolver maps content identifiers to fetchable gateway URLs and
// retrieves the bytes behind them, falling through an ordered gateway
// list. Fetched content is immutable, so successful fetches are cached
// and never invalidated.
type Resolver struct {
	gateways []string
	client   *http.Client
	cache    *lru.Cache[string, []byte]
	log      zerolog.Logger
}

func NewResolver(gateways []string, log zerolog.Logger) *Resolver {
	cache, _ := lru.New[string, []byte](cacheSize)
	return &Resolver{
		gateways: gateways,
		client:   &http.Client{Timeout: 30 * time.Second},
		cache:    cache,
		log:      log,
	}
}

// NormalizeID strips the ipfs:// scheme if present and rejects
// identifiers that are not content addresses.
func NormalizeID(contentID string) (string, error) {
	cid := strings.TrimPrefix(contentID, Scheme+"://")
	if cid == "" {
		return "", fmt.Errorf("empty content identifier")
	}
	if strings.Contains(cid, "://") {
		return "", fmt.Errorf("not a content identifier: %s", contentID)
	}
	return cid, nil
}

// Resolve returns the URL the content would be fetched from first.
func (r *Resolver) Resolve(contentID string) (string, error) {
	cid, err := NormalizeID(contentID)
	if err != nil {
		return "", err
	}
	if len(r.gateways) == 0 {
		return "", fmt.Errorf("no gateways configured")
	}
	return gatewayURL(r.gateways[0], cid), nil
}

// Fetch tries every gateway in order and returns the first successful
// response body. Each failure is logged with its own cause; the chain is
// exhausted before ErrContentUnavailable is reported.
func (r *Resolver) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	cid, err := NormalizeID(contentID)
	if err != nil {
		return nil, err
	}

	if data, ok := r.cache.Get(cid); ok {
		return data, nil
	}

	for _, gw := range r.gateways {
		url := gatewayURL(gw, cid)
		data, err := r.fetchOne(ctx, url)
		if err != nil {
			r.log.Warn().Str("gateway", gw).Str("cid", cid).Err(err).Msg("gateway fetch failed")
			continue
		}
		r.cache.Add(cid, data)
		return data, nil
	}

	return nil, fmt.Errorf("fetch %s after %d gateways: %w", cid, len(r.gateways), ErrContentUnavailable)
}

func (r *Resolver) fetchOne(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func gatewayURL(gw, cid string) string {
	return strings.TrimSuffix(gw, "/") + "/ipfs/" + cid
}
