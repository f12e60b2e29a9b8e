package classifier

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/registry"
)

const (
	walletAddr   = "rN7n7otQDd6FczFgLdSqtcsAUxDkw6fzRH"
	binanceAddr  = "rEb8TK3gBgk5auZkwc6sHnwrGVJH8DuaLh"
	sharedAddr   = "rLHzPsX6oXkzU2qL12kHCH8G8cnZv1rBJh"
	strangerAddr = "rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY"
)

func u32(v uint32) *uint32 { return &v }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(
		[]registry.WalletEntry{{Address: walletAddr, OwnerName: "Registry Owner"}},
		[]model.ExchangeAddressEntry{
			{Address: binanceAddr, ExchangeName: "Binance"},
			{Address: sharedAddr, ExchangeName: "Bitstamp", DestinationTag: u32(7)},
			{Address: sharedAddr, ExchangeName: "Kraken", DestinationTag: u32(9)},
		},
	)
	require.NoError(t, err)
	return reg
}

func sent(dest string, tag *uint32) model.NormalizedTransaction {
	return model.NormalizedTransaction{
		WalletAddress:      walletAddr,
		TransactionHash:    "H",
		Amount:             decimal.NewFromInt(60_000),
		Currency:           model.NativeCurrency,
		TransactionType:    model.DirectionSent,
		SourceAddress:      walletAddr,
		DestinationAddress: dest,
		DestinationTag:     tag,
	}
}

func TestClassify(t *testing.T) {
	reg := testRegistry(t)
	wallet := model.MonitoredWallet{Address: walletAddr, OwnerName: "Stored Owner"}
	override := model.MonitoredWallet{
		Address:        walletAddr,
		OwnerName:      "Stored Owner",
		AlertThreshold: decimal.NewNullDecimal(decimal.NewFromInt(25_000)),
	}

	received := sent(walletAddr, nil)
	received.TransactionType = model.DirectionReceived
	received.SourceAddress = binanceAddr

	tests := []struct {
		name      string
		tx        model.NormalizedTransaction
		wallet    model.MonitoredWallet
		kind      model.TransferKind
		exchange  string
		threshold int64
	}{
		{name: "direct transfer uses default", tx: sent(strangerAddr, nil), wallet: wallet, kind: model.KindDirectTransfer, threshold: 10_000},
		{name: "direct transfer uses wallet override", tx: sent(strangerAddr, nil), wallet: override, kind: model.KindDirectTransfer, threshold: 25_000},
		{name: "untagged exchange entry matches any tag", tx: sent(binanceAddr, u32(123)), wallet: override, kind: model.KindExchangeDeposit, exchange: "Binance", threshold: 50_000},
		{name: "tag selects exchange on shared address", tx: sent(sharedAddr, u32(9)), wallet: wallet, kind: model.KindExchangeDeposit, exchange: "Kraken", threshold: 50_000},
		{name: "unknown tag on shared address is direct", tx: sent(sharedAddr, u32(1)), wallet: wallet, kind: model.KindDirectTransfer, threshold: 10_000},
		{name: "received from exchange uses source", tx: received, wallet: wallet, kind: model.KindExchangeDeposit, exchange: "Binance", threshold: 50_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.tx, tt.wallet, reg, DefaultThresholds)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.exchange, c.ExchangeName)
			assert.True(t, c.Threshold.Equal(decimal.NewFromInt(tt.threshold)), "threshold %s", c.Threshold)
			assert.Equal(t, "Registry Owner", c.OwnerName)
		})
	}
}

func TestClassify_OwnerFallsBackToStoredWallet(t *testing.T) {
	reg, err := registry.New(nil, nil)
	require.NoError(t, err)

	c := Classify(sent(strangerAddr, nil), model.MonitoredWallet{OwnerName: "Stored Owner"}, reg, DefaultThresholds)
	assert.Equal(t, "Stored Owner", c.OwnerName)
}

func TestClassify_NilLookup(t *testing.T) {
	c := Classify(sent(binanceAddr, nil), model.MonitoredWallet{OwnerName: "Stored Owner"}, nil, DefaultThresholds)
	assert.Equal(t, model.KindDirectTransfer, c.Kind)
	assert.False(t, c.IsExchangeDeposit())
	assert.True(t, c.Threshold.Equal(DefaultThresholds.Default))
}

func TestClassify_Deterministic(t *testing.T) {
	reg := testRegistry(t)
	tx := sent(sharedAddr, u32(7))
	first := Classify(tx, model.MonitoredWallet{}, reg, DefaultThresholds)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(tx, model.MonitoredWallet{}, reg, DefaultThresholds))
	}
}
