// Package registry holds the static monitored-wallet and exchange-address tables.
package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
)

// WalletEntry is a monitored address with its owner identity.
type WalletEntry struct {
	Address        string           `yaml:"address" validate:"required,startswith=r,min=25,max=35"`
	OwnerName      string           `yaml:"owner" validate:"required"`
	AlertThreshold *decimal.Decimal `yaml:"alert_threshold,omitempty"`
}

type file struct {
	Wallets   []WalletEntry                `yaml:"wallets" validate:"dive"`
	Exchanges []model.ExchangeAddressEntry `yaml:"exchanges" validate:"dive"`
}

type exchangeKey struct {
	address string
	tag     uint32
	tagged  bool
}

// Registry answers owner and exchange lookups. It is immutable after construction
// and safe for concurrent use.
type Registry struct {
	wallets   []WalletEntry
	owners    map[string]string
	exchanges map[exchangeKey]string
}

// New builds a registry, rejecting conflicting duplicate keys.
func New(wallets []WalletEntry, exchanges []model.ExchangeAddressEntry) (*Registry, error) {
	r := &Registry{
		wallets:   make([]WalletEntry, 0, len(wallets)),
		owners:    make(map[string]string, len(wallets)),
		exchanges: make(map[exchangeKey]string, len(exchanges)),
	}
	for _, w := range wallets {
		addr := strings.TrimSpace(w.Address)
		if prev, ok := r.owners[addr]; ok && prev != w.OwnerName {
			return nil, fmt.Errorf("wallet %s listed with owners %q and %q", addr, prev, w.OwnerName)
		}
		w.Address = addr
		r.owners[addr] = w.OwnerName
		r.wallets = append(r.wallets, w)
	}
	for _, e := range exchanges {
		key := newExchangeKey(strings.TrimSpace(e.Address), e.DestinationTag)
		if prev, ok := r.exchanges[key]; ok && prev != e.ExchangeName {
			return nil, fmt.Errorf("exchange address %s (tag %s) listed as %q and %q", key.address, key.tagString(), prev, e.ExchangeName)
		}
		r.exchanges[key] = e.ExchangeName
	}
	return r, nil
}

// Load reads and validates a YAML registry file.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("validate registry %s: %w", path, err)
	}
	return New(f.Wallets, f.Exchanges)
}

// Wallets returns the monitored wallets in file order.
func (r *Registry) Wallets() []WalletEntry {
	if r == nil {
		return nil
	}
	out := make([]WalletEntry, len(r.wallets))
	copy(out, r.wallets)
	return out
}

// OwnerOf returns the owner name registered for a monitored address.
func (r *Registry) OwnerOf(address string) (string, bool) {
	if r == nil {
		return "", false
	}
	name, ok := r.owners[address]
	return name, ok
}

// ExchangeFor resolves (address, tag) to an exchange name. An exact tagged entry wins
// over an untagged entry for the same address; a tagged entry never matches a
// transfer without that tag.
func (r *Registry) ExchangeFor(address string, tag *uint32) (string, bool) {
	if r == nil || address == "" {
		return "", false
	}
	if tag != nil {
		if name, ok := r.exchanges[newExchangeKey(address, tag)]; ok {
			return name, true
		}
	}
	name, ok := r.exchanges[newExchangeKey(address, nil)]
	return name, ok
}

func newExchangeKey(address string, tag *uint32) exchangeKey {
	if tag == nil {
		return exchangeKey{address: address}
	}
	return exchangeKey{address: address, tag: *tag, tagged: true}
}

func (k exchangeKey) tagString() string {
	if !k.tagged {
		return "any"
	}
	return fmt.Sprintf("%d", k.tag)
}
