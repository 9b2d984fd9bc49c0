package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/sugawarayuuta/sonnet"

	"github.com/caldre/arbot/internal/domain"
)

const snapshotKey = "snapshot:latest"

// SnapshotCache implements domain.SnapshotCache. The latest pool snapshot
// is stored as a single JSON blob so a restarted process can warm-start
// before its first live fetch completes. Entries expire: a stale snapshot
// is worse than none.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
// ttl bounds how old a warm-start snapshot may be.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

// Reserves travel as decimal strings: they routinely exceed uint64 and
// JSON numbers would lose precision.
type cachedToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type cachedPool struct {
	Address  string      `json:"address"`
	Venue    string      `json:"venue"`
	TokenA   cachedToken `json:"token_a"`
	TokenB   cachedToken `json:"token_b"`
	ReserveA string      `json:"reserve_a"`
	ReserveB string      `json:"reserve_b"`
	FeeBps   uint32      `json:"fee_bps"`
}

type cachedSnapshot struct {
	Seq   uint64       `json:"seq"`
	Taken int64        `json:"taken"` // Unix nanoseconds
	Pools []cachedPool `json:"pools"`
}

// Put stores s as the latest snapshot.
func (sc *SnapshotCache) Put(ctx context.Context, s *domain.Snapshot) error {
	cs := cachedSnapshot{
		Seq:   s.Seq,
		Taken: s.Taken.UnixNano(),
		Pools: make([]cachedPool, 0, len(s.Pools)),
	}
	for _, p := range s.Pools {
		cs.Pools = append(cs.Pools, cachedPool{
			Address:  p.Address.Hex(),
			Venue:    p.Venue,
			TokenA:   cacheToken(p.TokenA),
			TokenB:   cacheToken(p.TokenB),
			ReserveA: p.ReserveA.String(),
			ReserveB: p.ReserveB.String(),
			FeeBps:   p.FeeBps,
		})
	}
	data, err := sonnet.Marshal(cs)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot: %w", err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey, data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: put snapshot: %w", err)
	}
	return nil
}

// Get retrieves the latest stored snapshot. It returns domain.ErrNotFound
// when no snapshot is cached or the entry has expired.
func (sc *SnapshotCache) Get(ctx context.Context) (*domain.Snapshot, error) {
	data, err := sc.rdb.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get snapshot: %w", err)
	}

	var cs cachedSnapshot
	if err := sonnet.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("redis: decode snapshot: %w", err)
	}
	snap := &domain.Snapshot{
		Seq:   cs.Seq,
		Taken: time.Unix(0, cs.Taken).UTC(),
		Pools: make(map[common.Address]*domain.Pool, len(cs.Pools)),
	}
	for i := range cs.Pools {
		cp := &cs.Pools[i]
		ra, okA := new(big.Int).SetString(cp.ReserveA, 10)
		rb, okB := new(big.Int).SetString(cp.ReserveB, 10)
		if !okA || !okB {
			return nil, fmt.Errorf("redis: snapshot pool %s: bad reserves", cp.Address)
		}
		addr := common.HexToAddress(cp.Address)
		snap.Pools[addr] = &domain.Pool{
			Address:  addr,
			Venue:    cp.Venue,
			TokenA:   domainToken(cp.TokenA),
			TokenB:   domainToken(cp.TokenB),
			ReserveA: ra,
			ReserveB: rb,
			FeeBps:   cp.FeeBps,
		}
	}
	return snap, nil
}

func cacheToken(t domain.Token) cachedToken {
	return cachedToken{Address: t.Address.Hex(), Symbol: t.Symbol, Decimals: t.Decimals}
}

func domainToken(t cachedToken) domain.Token {
	return domain.Token{Address: common.HexToAddress(t.Address), Symbol: t.Symbol, Decimals: t.Decimals}
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
