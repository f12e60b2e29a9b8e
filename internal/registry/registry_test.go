package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
)

const (
	sharedHotWallet = "rLNaPoKeeBjZe2qs6x52yVPZpZ8td4dc6w"
	binanceDeposit  = "rEb8TK3gBgk5auZkwc6sHnwrGVJH8DuaLh"
	rippleWallet    = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
)

func tag(v uint32) *uint32 { return &v }

func TestExchangeFor_TagDisambiguation(t *testing.T) {
	r, err := New(nil, []model.ExchangeAddressEntry{
		{Address: binanceDeposit, ExchangeName: "Binance"},
		{Address: sharedHotWallet, ExchangeName: "Bitrue", DestinationTag: tag(101)},
		{Address: sharedHotWallet, ExchangeName: "Bitbank", DestinationTag: tag(202)},
	})
	require.NoError(t, err)

	name, ok := r.ExchangeFor(binanceDeposit, nil)
	assert.True(t, ok)
	assert.Equal(t, "Binance", name)

	// Untagged entry matches any tag.
	name, ok = r.ExchangeFor(binanceDeposit, tag(555))
	assert.True(t, ok)
	assert.Equal(t, "Binance", name)

	name, ok = r.ExchangeFor(sharedHotWallet, tag(202))
	assert.True(t, ok)
	assert.Equal(t, "Bitbank", name)

	_, ok = r.ExchangeFor(sharedHotWallet, tag(999))
	assert.False(t, ok, "unknown tag on a shared address must not match")

	_, ok = r.ExchangeFor(sharedHotWallet, nil)
	assert.False(t, ok, "tagged entries never match an untagged transfer")
}

func TestExchangeFor_TaggedBeatsUntagged(t *testing.T) {
	r, err := New(nil, []model.ExchangeAddressEntry{
		{Address: sharedHotWallet, ExchangeName: "Generic"},
		{Address: sharedHotWallet, ExchangeName: "Specific", DestinationTag: tag(7)},
	})
	require.NoError(t, err)

	name, _ := r.ExchangeFor(sharedHotWallet, tag(7))
	assert.Equal(t, "Specific", name)
	name, _ = r.ExchangeFor(sharedHotWallet, tag(8))
	assert.Equal(t, "Generic", name)
}

func TestNew_ConflictingEntries(t *testing.T) {
	_, err := New(nil, []model.ExchangeAddressEntry{
		{Address: binanceDeposit, ExchangeName: "Binance"},
		{Address: binanceDeposit, ExchangeName: "Kraken"},
	})
	require.Error(t, err)

	_, err = New([]WalletEntry{
		{Address: rippleWallet, OwnerName: "Ripple"},
		{Address: rippleWallet, OwnerName: "Someone else"},
	}, nil)
	require.Error(t, err)
}

func TestNilRegistryLookups(t *testing.T) {
	var r *Registry
	_, ok := r.OwnerOf(rippleWallet)
	assert.False(t, ok)
	_, ok = r.ExchangeFor(binanceDeposit, nil)
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	content := `
wallets:
  - address: ` + rippleWallet + `
    owner: Ripple
    alert_threshold: "250000"
exchanges:
  - address: ` + binanceDeposit + `
    exchange: Binance
  - address: ` + sharedHotWallet + `
    exchange: Bitrue
    destination_tag: 101
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r, err := Load(path)
	require.NoError(t, err)

	owner, ok := r.OwnerOf(rippleWallet)
	require.True(t, ok)
	assert.Equal(t, "Ripple", owner)

	wallets := r.Wallets()
	require.Len(t, wallets, 1)
	require.NotNil(t, wallets[0].AlertThreshold)
	assert.True(t, wallets[0].AlertThreshold.Equal(decimal.NewFromInt(250000)))

	name, ok := r.ExchangeFor(sharedHotWallet, tag(101))
	require.True(t, ok)
	assert.Equal(t, "Bitrue", name)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wallets:\n  - address: not-an-address\n    owner: x\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate registry")
}
