// Package view is the authoritative read model over the engine: one cached
// snapshot shared by every reader, invalidated by the engine's version
// counter instead of per-client refresh loops.
package view

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/saadverse/presale-engine/internal/engine"
)

// Status is the sale header every client renders.
type Status struct {
	CurrentPhase      int      `json:"currentPhase"`
	PriceUSD6         *big.Int `json:"priceUsd6"`
	Paused            bool     `json:"paused"`
	PresaleEnded      bool     `json:"presaleEnded"`
	WhitelistRequired bool     `json:"whitelistRequired"`
	Version           uint64   `json:"version"`
}

type Cache struct {
	eng *engine.Engine

	mu      sync.Mutex
	version uint64
	fresh   bool
	status  Status
	phases  []engine.PhaseInfo
}

func New(eng *engine.Engine) *Cache {
	return &Cache{eng: eng}
}

// Status returns the cached sale header, rebuilding it only when the engine
// has committed a mutation since the last rebuild.
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return c.status
}

// Phases returns the cached per-phase snapshots.
func (c *Cache) Phases() []engine.PhaseInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	out := make([]engine.PhaseInfo, len(c.phases))
	copy(out, c.phases)
	return out
}

// VestingInfo is time-dependent and therefore never cached.
func (c *Cache) VestingInfo(addr common.Address) engine.VestingInfo {
	return c.eng.VestingInfo(addr)
}

func (c *Cache) refreshLocked() {
	if c.fresh && c.eng.Version() == c.version {
		return
	}
	// one snapshot under one engine lock, so the version tag matches the
	// state it was read with even while mutations race the rebuild
	snap := c.eng.Snapshot()
	price := big.NewInt(0)
	if snap.CurrentPhase >= 0 && snap.CurrentPhase < len(snap.Phases) {
		price = parseAmount(snap.Phases[snap.CurrentPhase].PriceUSD6)
	}
	c.status = Status{
		CurrentPhase:      snap.CurrentPhase,
		PriceUSD6:         price,
		Paused:            snap.Paused,
		PresaleEnded:      snap.Ended,
		WhitelistRequired: snap.WhitelistRequired,
		Version:           snap.Version,
	}
	c.phases = c.phases[:0]
	for i, ph := range snap.Phases {
		c.phases = append(c.phases, engine.PhaseInfo{
			Index:        i,
			PriceUSD6:    parseAmount(ph.PriceUSD6),
			CapTokens18:  parseAmount(ph.CapTokens18),
			SoldTokens18: parseAmount(ph.SoldTokens18),
			DeadlineUnix: ph.DeadlineUnix,
		})
	}
	c.version = snap.Version
	c.fresh = true
}

// parseAmount reads a snapshot decimal string; the engine only ever emits
// valid ones.
func parseAmount(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
