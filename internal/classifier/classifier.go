// Package classifier labels normalized transactions and selects the threshold
// they are tested against. Everything here is a pure function of its inputs.
package classifier

import (
	"github.com/shopspring/decimal"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
)

// Lookup resolves registry identities. *registry.Registry implements it.
type Lookup interface {
	OwnerOf(address string) (string, bool)
	ExchangeFor(address string, tag *uint32) (string, bool)
}

// Thresholds are the global alert levels in whole XRP.
type Thresholds struct {
	Default  decimal.Decimal
	Exchange decimal.Decimal
	Critical decimal.Decimal
}

var DefaultThresholds = Thresholds{
	Default:  decimal.NewFromInt(10_000),
	Exchange: decimal.NewFromInt(50_000),
	Critical: decimal.NewFromInt(1_000_000),
}

type Classification struct {
	OwnerName    string
	Kind         model.TransferKind
	ExchangeName string
	Threshold    decimal.Decimal
}

// IsExchangeDeposit reports whether the counterparty is a known exchange address.
func (c Classification) IsExchangeDeposit() bool {
	return c.Kind == model.KindExchangeDeposit
}

func Classify(tx model.NormalizedTransaction, wallet model.MonitoredWallet, lookup Lookup, th Thresholds) Classification {
	c := Classification{
		OwnerName: wallet.OwnerName,
		Kind:      model.KindDirectTransfer,
		Threshold: wallet.ThresholdOr(th.Default),
	}

	if lookup == nil {
		return c
	}

	if owner, ok := lookup.OwnerOf(tx.WalletAddress); ok && owner != "" {
		c.OwnerName = owner
	}

	counterparty, tag := tx.Counterparty()
	if name, ok := lookup.ExchangeFor(counterparty, tag); ok {
		c.Kind = model.KindExchangeDeposit
		c.ExchangeName = name
		c.Threshold = th.Exchange
	}
	return c
}
