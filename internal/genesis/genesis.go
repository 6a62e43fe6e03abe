// Package genesis holds the per-chain genesis parameters a staging
// transaction needs at build time (network id, protocol magic, slot
// arithmetic), indexed by the network magic advertised in a chain's
// config.toml and on the node-to-node handshake.
//
// The lookup key is the single numeric magic a chain is configured
// with; well-known public networks are registered at init and custom
// networks can be added with Register.
package genesis

import (
	"fmt"
	"sync"
)

// NetworkID selects the network byte embedded in Shelley addresses.
type NetworkID byte

const (
	NetworkTestnet NetworkID = 0
	NetworkMainnet NetworkID = 1
)

// Bech32HRP returns the bech32 human-readable prefix used for
// addresses on this network.
func (n NetworkID) Bech32HRP() string {
	if n == NetworkMainnet {
		return "addr"
	}
	return "addr_test"
}

func (n NetworkID) String() string {
	if n == NetworkMainnet {
		return "mainnet"
	}
	return "testnet"
}

// Params are the genesis-derived values a build needs: which network a
// key hash resolves an address on, the protocol magic used for the
// node-to-node handshake, and the slot/epoch arithmetic used to turn a
// wall-clock TTL into an absolute slot.
type Params struct {
	Name            string
	Magic           uint64
	Network         NetworkID
	SystemStartUnix int64 // unix time of slot 0
	SlotLengthMs    uint64
	EpochLengthSlot uint64
}

// SlotToUnix converts an absolute slot number to a unix timestamp
// using this chain's genesis slot-length arithmetic.
func (p *Params) SlotToUnix(slot uint64) int64 {
	return p.SystemStartUnix + int64(slot*p.SlotLengthMs/1000)
}

// UnixToSlot converts a unix timestamp to the absolute slot containing
// it, saturating at slot 0 for timestamps before genesis.
func (p *Params) UnixToSlot(unix int64) uint64 {
	if unix <= p.SystemStartUnix {
		return 0
	}
	elapsedMs := uint64(unix-p.SystemStartUnix) * 1000
	return elapsedMs / p.SlotLengthMs
}

var (
	mu       sync.RWMutex
	registry = make(map[uint64]*Params)
)

// Well-known public Cardano networks, registered at package init so a
// freshly-created chain config can resolve "mainnet"/"preprod"/"preview"
// by name without the caller hand-rolling the genesis numbers.
const (
	MainnetMagic = 764824073
	PreprodMagic = 1
	PreviewMagic = 2
)

func init() {
	Register(&Params{
		Name:            "mainnet",
		Magic:           MainnetMagic,
		Network:         NetworkMainnet,
		SystemStartUnix: 1506203091,
		SlotLengthMs:    1000,
		EpochLengthSlot: 432000,
	})
	Register(&Params{
		Name:            "preprod",
		Magic:           PreprodMagic,
		Network:         NetworkTestnet,
		SystemStartUnix: 1654041600,
		SlotLengthMs:    1000,
		EpochLengthSlot: 432000,
	})
	Register(&Params{
		Name:            "preview",
		Magic:           PreviewMagic,
		Network:         NetworkTestnet,
		SystemStartUnix: 1666656000,
		SlotLengthMs:    1000,
		EpochLengthSlot: 86400,
	})
}

// Register adds (or replaces) the genesis parameters for a magic.
func Register(p *Params) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Magic] = p
}

// Get looks up genesis parameters by network magic.
func Get(magic uint64) (*Params, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[magic]
	return p, ok
}

// MustGet is Get, panicking on an unregistered magic; used where a
// chain's own config.toml has already been validated to carry a known
// or custom-registered magic.
func MustGet(magic uint64) *Params {
	p, ok := Get(magic)
	if !ok {
		panic(fmt.Sprintf("genesis: no params registered for magic %d", magic))
	}
	return p
}

// List returns every registered magic.
func List() []uint64 {
	mu.RLock()
	defer mu.RUnlock()
	magics := make([]uint64, 0, len(registry))
	for m := range registry {
		magics = append(magics, m)
	}
	return magics
}
