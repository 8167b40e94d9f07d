package providers

import (
	"fmt"

	"github.com/mbd888/walletrisk/internal/config"
)

// Catalog is the ordered set of providers the service exposes.
type Catalog struct {
	list  []Provider
	byKey map[string]Provider
}

// NewCatalog indexes ps in order. Duplicate keys are rejected.
func NewCatalog(ps ...Provider) (*Catalog, error) {
	c := &Catalog{byKey: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		if _, dup := c.byKey[p.Key()]; dup {
			return nil, fmt.Errorf("providers: duplicate key %q", p.Key())
		}
		c.byKey[p.Key()] = p
		c.list = append(c.list, p)
	}
	return c, nil
}

// Build wires every adapter from configuration. Adapters without
// credentials come up in simulated mode.
func Build(cfg *config.Config, deps Deps) (*Catalog, error) {
	alchemy, err := NewAlchemy(cfg.AlchemyURL, deps)
	if err != nil {
		return nil, err
	}
	return NewCatalog(
		alchemy,
		NewEtherscan(cfg.Etherscan.URL, cfg.Etherscan.Key, cfg.EtherscanChain, deps),
		NewElliptic(cfg.Elliptic, deps),
		NewChainalysis(cfg.Chainalysis, deps),
		NewOFAC(cfg.OFAC, deps),
		NewSimulated(KeyBlockchain, "Blockchain.com", deps),
		NewSimulated(KeyFireblocks, "Fireblocks", deps),
		NewSimulated(KeyBridge, "Bridge", deps),
	)
}

// All returns the providers in registration order.
func (c *Catalog) All() []Provider {
	return append([]Provider(nil), c.list...)
}

// Get looks a provider up by key.
func (c *Catalog) Get(key string) (Provider, bool) {
	p, ok := c.byKey[key]
	return p, ok
}

// Describe lists every provider.
func (c *Catalog) Describe() []Info {
	out := make([]Info, 0, len(c.list))
	for _, p := range c.list {
		out = append(out, Describe(p))
	}
	return out
}

// Close releases adapters that hold connections.
func (c *Catalog) Close() {
	for _, p := range c.list {
		if cl, ok := p.(interface{ Close() }); ok {
			cl.Close()
		}
	}
}
