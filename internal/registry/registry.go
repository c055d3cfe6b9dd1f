// Package registry tracks the set of lender group pool addresses announced
// by the factory. Membership is backed by a persisted set store so it
// survives restarts and follows the same commit/discard lifecycle as every
// other store.
package registry

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/teller-protocol/teller-protocol-v2/internal/common"
	"github.com/teller-protocol/teller-protocol-v2/internal/logger"
	"github.com/teller-protocol/teller-protocol-v2/pkg/store"
)

const keyPrefix = "lender_group_registered"

// Registry is the dynamic pool address set.
type Registry struct {
	store *store.SetStore
	log   *logger.Logger
}

// New creates a registry over the given set store.
func New(s *store.SetStore, log *logger.Logger) *Registry {
	return &Registry{store: s, log: log}
}

// Record marks an address as a lender group pool. Recording an already
// registered address is a no-op, so replays converge to the same state.
func (r *Registry) Record(addr ethcommon.Address) {
	key := store.Key(keyPrefix, common.AddressKey(addr))
	if r.store.Has(key) {
		r.log.Debugf("pool %s already registered", addr.Hex())
		return
	}

	r.store.Set(key, big.NewInt(1))
}

// IsRegistered reports whether the address is a known pool, including pools
// recorded earlier in the in-flight block.
func (r *Registry) IsRegistered(addr ethcommon.Address) bool {
	return r.store.Has(store.Key(keyPrefix, common.AddressKey(addr)))
}

// Addresses returns all registered pool addresses.
func (r *Registry) Addresses() []ethcommon.Address {
	keys := r.store.Keys()
	addrs := make([]ethcommon.Address, 0, len(keys))
	for _, k := range keys {
		hexAddr := store.Segment(k, 1)
		if !ethcommon.IsHexAddress(hexAddr) {
			continue
		}
		addrs = append(addrs, ethcommon.HexToAddress(hexAddr))
	}
	return addrs
}
