// Package venue holds the HTTP clients for the external market-data and
// bundle-building collaborators: the pool indexer, the quote aggregator
// and the bundle builder service.
package venue

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sugawarayuuta/sonnet"

	"github.com/caldre/arbot/internal/domain"
)

// PoolSource fetches full pool snapshots from the indexer API. It
// implements domain.PoolSource; each fetch produces a fresh immutable
// snapshot with a monotonically increasing sequence number.
type PoolSource struct {
	baseURL    string
	httpClient *http.Client
	seq        atomic.Uint64
}

// NewPoolSource creates a client for the indexer at baseURL, e.g.
// "https://indexer.example.com".
func NewPoolSource(baseURL string, timeout time.Duration) *PoolSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PoolSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type apiToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type apiPool struct {
	Address  string   `json:"address"`
	Venue    string   `json:"venue"`
	TokenA   apiToken `json:"token_a"`
	TokenB   apiToken `json:"token_b"`
	ReserveA string   `json:"reserve_a"`
	ReserveB string   `json:"reserve_b"`
	FeeBps   uint32   `json:"fee_bps"`
}

type poolsResponse struct {
	Pools []apiPool `json:"pools"`
}

// FetchSnapshot retrieves every tracked pool. Pools with unparseable
// reserves are skipped rather than failing the whole snapshot.
func (s *PoolSource) FetchSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	body, err := s.doGet(ctx, "/v1/pools")
	if err != nil {
		return nil, fmt.Errorf("venue: fetch pools: %w", err)
	}
	var resp poolsResponse
	if err := sonnet.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("venue: decode pools: %w", err)
	}

	snap := &domain.Snapshot{
		Seq:   s.seq.Add(1),
		Taken: time.Now().UTC(),
		Pools: make(map[common.Address]*domain.Pool, len(resp.Pools)),
	}
	for i := range resp.Pools {
		p, ok := resp.Pools[i].toDomain()
		if !ok {
			continue
		}
		snap.Pools[p.Address] = p
	}
	return snap, nil
}

func (ap *apiPool) toDomain() (*domain.Pool, bool) {
	ra, okA := new(big.Int).SetString(ap.ReserveA, 10)
	rb, okB := new(big.Int).SetString(ap.ReserveB, 10)
	if !okA || !okB {
		return nil, false
	}
	return &domain.Pool{
		Address:  common.HexToAddress(ap.Address),
		Venue:    ap.Venue,
		TokenA:   ap.TokenA.toDomain(),
		TokenB:   ap.TokenB.toDomain(),
		ReserveA: ra,
		ReserveB: rb,
		FeeBps:   ap.FeeBps,
	}, true
}

func (at *apiToken) toDomain() domain.Token {
	return domain.Token{
		Address:  common.HexToAddress(at.Address),
		Symbol:   at.Symbol,
		Decimals: at.Decimals,
	}
}

func (s *PoolSource) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
}
