package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	nativeCurrency = "XRP"

	// rippleEpochOffset is the Unix time of 2000-01-01T00:00:00Z.
	rippleEpochOffset = 946684800

	resultSuccess   = "tesSUCCESS"
	typePayment     = "Payment"
	statusError     = "error"
	deliveredAbsent = "unavailable"
)

type request struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
}

type resultStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// RPCError is an error reported in-band by the server (status "error").
type RPCError struct {
	Code      string
	ErrorCode int
	Message   string
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return "rpc error " + e.Code
	}
	return fmt.Sprintf("rpc error %s: %s", e.Code, e.Message)
}

// Retryable reports whether the server asked the client to back off or is
// temporarily unable to answer.
func (e *RPCError) Retryable() bool {
	switch e.Code {
	case "slowDown", "tooBusy", "noNetwork", "noCurrent", "noClosed", "failedToForward", "internal":
		return true
	}
	return false
}

type accountTxParams struct {
	Account        string          `json:"account"`
	LedgerIndexMin int64           `json:"ledger_index_min"`
	LedgerIndexMax int64           `json:"ledger_index_max"`
	Forward        bool            `json:"forward"`
	Limit          int             `json:"limit,omitempty"`
	Marker         json.RawMessage `json:"marker,omitempty"`
}

type accountTxResult struct {
	Account        string          `json:"account"`
	LedgerIndexMin int64           `json:"ledger_index_min"`
	LedgerIndexMax int64           `json:"ledger_index_max"`
	Marker         json.RawMessage `json:"marker,omitempty"`
	Transactions   []accountTxItem `json:"transactions"`
	Validated      bool            `json:"validated"`
}

// accountTxItem accepts both API v1 ("tx") and v2 ("tx_json" + top level hash).
type accountTxItem struct {
	Tx        *txJSON  `json:"tx"`
	TxJSON    *txJSON  `json:"tx_json"`
	Hash      string   `json:"hash"`
	LedgerIdx int64    `json:"ledger_index"`
	Meta      *txMeta  `json:"meta"`
	Validated bool     `json:"validated"`
}

type txJSON struct {
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	DestinationTag  *uint32         `json:"DestinationTag"`
	Amount          json.RawMessage `json:"Amount"`
	DeliverMax      json.RawMessage `json:"DeliverMax"`
	Hash            string          `json:"hash"`
	LedgerIndex     int64           `json:"ledger_index"`
	Date            int64           `json:"date"`
}

type txMeta struct {
	TransactionResult string          `json:"TransactionResult"`
	TransactionIndex  int64           `json:"TransactionIndex"`
	DeliveredAmount   json.RawMessage `json:"delivered_amount"`
}

type issuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

// parseAmount decodes either a drops string or an issued currency object.
func parseAmount(raw json.RawMessage) (Amount, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Amount{}, fmt.Errorf("amount missing")
	}

	if raw[0] == '"' {
		var drops string
		if err := json.Unmarshal(raw, &drops); err != nil {
			return Amount{}, fmt.Errorf("decode drops: %w", err)
		}
		v, err := decimal.NewFromString(drops)
		if err != nil {
			return Amount{}, fmt.Errorf("parse drops %q: %w", drops, err)
		}
		return Amount{Value: v.Shift(-6), Currency: nativeCurrency}, nil
	}

	var iou issuedAmount
	if err := json.Unmarshal(raw, &iou); err != nil {
		return Amount{}, fmt.Errorf("decode issued amount: %w", err)
	}
	v, err := decimal.NewFromString(iou.Value)
	if err != nil {
		return Amount{}, fmt.Errorf("parse issued value %q: %w", iou.Value, err)
	}
	return Amount{Value: v, Currency: iou.Currency, Issuer: iou.Issuer}, nil
}

func rippleTime(seconds int64) time.Time {
	return time.Unix(seconds+rippleEpochOffset, 0).UTC()
}

// toTransaction returns false for anything that is not a successful, validated Payment.
func (it accountTxItem) toTransaction() (Transaction, bool, error) {
	tx := it.Tx
	if tx == nil {
		tx = it.TxJSON
	}
	if tx == nil || it.Meta == nil || !it.Validated {
		return Transaction{}, false, nil
	}
	if tx.TransactionType != typePayment || it.Meta.TransactionResult != resultSuccess {
		return Transaction{}, false, nil
	}

	hash := tx.Hash
	if hash == "" {
		hash = it.Hash
	}
	ledgerIndex := tx.LedgerIndex
	if ledgerIndex == 0 {
		ledgerIndex = it.LedgerIdx
	}

	amount, err := deliveredAmount(it.Meta.DeliveredAmount, tx)
	if err != nil {
		return Transaction{}, false, fmt.Errorf("tx %s: %w", hash, err)
	}

	return Transaction{
		Hash:             hash,
		Account:          tx.Account,
		Destination:      tx.Destination,
		DestinationTag:   tx.DestinationTag,
		Amount:           amount,
		LedgerIndex:      ledgerIndex,
		TransactionIndex: it.Meta.TransactionIndex,
		Date:             rippleTime(tx.Date),
	}, true, nil
}

// deliveredAmount prefers meta.delivered_amount, which reflects partial payments.
// Ledgers before 2014 report it as "unavailable".
func deliveredAmount(delivered json.RawMessage, tx *txJSON) (Amount, error) {
	if len(delivered) > 0 && !strings.Contains(string(delivered), deliveredAbsent) {
		return parseAmount(delivered)
	}
	if len(tx.Amount) > 0 {
		return parseAmount(tx.Amount)
	}
	return parseAmount(tx.DeliverMax)
}
