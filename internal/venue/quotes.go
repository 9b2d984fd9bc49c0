package venue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sugawarayuuta/sonnet"

	"github.com/caldre/arbot/internal/domain"
)

// QuoteClient prices swaps against an external aggregator. Quotes are
// cached briefly: cross-venue detection asks for the same pairs on every
// scan cycle and the aggregator rate-limits aggressively.
type QuoteClient struct {
	baseURL    string
	httpClient *http.Client
	cache      *expirable.LRU[string, domain.Quote]
}

// NewQuoteClient creates an aggregator client. cacheTTL bounds quote
// staleness; cacheSize bounds memory.
func NewQuoteClient(baseURL string, timeout, cacheTTL time.Duration, cacheSize int) *QuoteClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &QuoteClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      expirable.NewLRU[string, domain.Quote](cacheSize, nil, cacheTTL),
	}
}

type quoteResponse struct {
	Rate   float64 `json:"rate"`
	Source string  `json:"source"`
}

// Quote returns the aggregator's rate for swapping amount of in to out.
func (c *QuoteClient) Quote(ctx context.Context, in, out common.Address, amount float64) (domain.Quote, error) {
	key := in.Hex() + ":" + out.Hex()
	if q, ok := c.cache.Get(key); ok {
		return q, nil
	}

	params := url.Values{}
	params.Set("in", in.Hex())
	params.Set("out", out.Hex())
	params.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/quote?"+params.Encode(), nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("venue: quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("venue: quote %s/%s: %w", in.Hex(), out.Hex(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Quote{}, fmt.Errorf("venue: quote %s/%s: status %d", in.Hex(), out.Hex(), resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Quote{}, fmt.Errorf("venue: read quote: %w", err)
	}
	var qr quoteResponse
	if err := sonnet.Unmarshal(body, &qr); err != nil {
		return domain.Quote{}, fmt.Errorf("venue: decode quote: %w", err)
	}
	q := domain.Quote{
		In:     in,
		Out:    out,
		Rate:   qr.Rate,
		Source: qr.Source,
		Taken:  time.Now().UTC(),
	}
	c.cache.Add(key, q)
	return q, nil
}
