package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
)

// DefaultExplorerURL is prepended to transaction hashes in rendered messages.
const DefaultExplorerURL = "https://livenet.xrpl.org/transactions/"

var tierTitles = map[model.AlertTier]string{
	model.TierCriticalWhales:   "🚨 CRITICAL WHALE ALERT",
	model.TierExchangeDeposits: "🏦 EXCHANGE DEPOSIT ALERT",
	model.TierWhaleMovements:   "🐋 WHALE MOVEMENT",
}

// Render builds the fixed alert message. explorerURL may be empty, in which
// case the link line is omitted.
func Render(a model.WhaleAlert, explorerURL string) string {
	title, ok := tierTitles[a.AlertType]
	if !ok {
		title = "🐋 WHALE ALERT"
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Amount: %s %s\n", FormatAmount(a.Amount), model.NativeCurrency)
	fmt.Fprintf(&b, "Owner: %s\n", a.OwnerName)
	fmt.Fprintf(&b, "Wallet: %s\n", a.WalletAddress)
	fmt.Fprintf(&b, "Type: %s\n", describe(a))
	if a.ExchangeName != nil && *a.ExchangeName != "" {
		fmt.Fprintf(&b, "Exchange: %s\n", *a.ExchangeName)
	}
	fmt.Fprintf(&b, "Tx: %s\n", a.TransactionHash)
	fmt.Fprintf(&b, "Time: %s", a.TransactionDate.UTC().Format(time.DateTime+" UTC"))
	if explorerURL != "" {
		b.WriteString("\n")
		b.WriteString(explorerURL)
		b.WriteString(a.TransactionHash)
	}
	return b.String()
}

func describe(a model.WhaleAlert) string {
	dir := "Received"
	if a.Direction == model.DirectionSent {
		dir = "Sent"
	}
	if a.TransactionType == model.KindExchangeDeposit {
		return dir + " (exchange deposit)"
	}
	return dir + " (direct transfer)"
}

// FormatAmount renders d with thousands separators and without trailing
// fractional zeros, e.g. 1200000.5 -> "1,200,000.5".
func FormatAmount(d decimal.Decimal) string {
	s := d.Abs().String()
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
	}
	lead := len(intPart) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(intPart[:lead])
	for i := lead; i < len(intPart); i += 3 {
		b.WriteByte(',')
		b.WriteString(intPart[i : i+3])
	}
	if frac = strings.TrimRight(frac, "0"); frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
