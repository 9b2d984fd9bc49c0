package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Token identifies one side of a pool.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// Pool is one constant-product AMM pool at a point in time. Reserves are
// raw token units (not decimal-adjusted). A pool with a zero reserve on
// either side is not tradeable.
type Pool struct {
	Address  common.Address
	Venue    string
	TokenA   Token
	TokenB   Token
	ReserveA *big.Int
	ReserveB *big.Int
	FeeBps   uint32
}

// Tradeable reports whether both reserves are positive.
func (p *Pool) Tradeable() bool {
	return p.ReserveA != nil && p.ReserveB != nil &&
		p.ReserveA.Sign() > 0 && p.ReserveB.Sign() > 0
}

// Reserves returns the (in, out) reserves for a swap entering with from.
// ok is false when from is neither side of the pool.
func (p *Pool) Reserves(from common.Address) (in, out *big.Int, ok bool) {
	switch from {
	case p.TokenA.Address:
		return p.ReserveA, p.ReserveB, true
	case p.TokenB.Address:
		return p.ReserveB, p.ReserveA, true
	}
	return nil, nil, false
}

// Other returns the token opposite to from.
func (p *Pool) Other(from common.Address) (Token, bool) {
	switch from {
	case p.TokenA.Address:
		return p.TokenB, true
	case p.TokenB.Address:
		return p.TokenA, true
	}
	return Token{}, false
}

// PairKey is an order-independent identifier for a token pair.
type PairKey [2]common.Address

// NewPairKey normalizes (a, b) so that pools holding the same two tokens
// map to the same key regardless of side ordering.
func NewPairKey(a, b common.Address) PairKey {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	return PairKey{a, b}
}

// Pair returns the pool's normalized pair key.
func (p *Pool) Pair() PairKey {
	return NewPairKey(p.TokenA.Address, p.TokenB.Address)
}

// Snapshot is an immutable view of every tracked pool. A new snapshot is
// published atomically on each refresh; Seq increases monotonically and is
// stamped onto opportunities so stale detections can be discarded.
type Snapshot struct {
	Seq   uint64
	Taken time.Time
	Pools map[common.Address]*Pool
}

// ByPair groups the snapshot's tradeable pools by normalized pair key.
func (s *Snapshot) ByPair() map[PairKey][]*Pool {
	out := make(map[PairKey][]*Pool, len(s.Pools))
	for _, p := range s.Pools {
		if !p.Tradeable() {
			continue
		}
		k := p.Pair()
		out[k] = append(out[k], p)
	}
	return out
}
