package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/ledger/ratelimit"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/retry"
)

const (
	methodAccountTx = "account_tx"

	defaultPageLimit = 200
	defaultMaxPages  = 10
	defaultTimeout   = 30 * time.Second

	// maxResponseBytes bounds a single page read.
	maxResponseBytes = 32 << 20
)

type Config struct {
	URL       string
	Timeout   time.Duration
	PageLimit int
	MaxPages  int
	Retry     retry.Policy
}

type Client struct {
	httpClient *http.Client
	url        string
	pageLimit  int
	maxPages   int
	retry      retry.Policy
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

var _ Source = (*Client)(nil)

// NewClient builds a client whose every request passes through limiter.
// A nil limiter disables rate limiting.
func NewClient(cfg Config, limiter *ratelimit.Limiter, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = defaultPageLimit
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if limiter == nil {
		limiter = ratelimit.NewLimiter(0, 1)
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		url:        cfg.URL,
		pageLimit:  cfg.PageLimit,
		maxPages:   cfg.MaxPages,
		retry:      cfg.Retry,
		limiter:    limiter,
		logger:     logger.With("component", "ledger"),
	}
}

// FetchSince pages through account_tx from afterLedger+1 to the latest validated
// ledger. Retries are applied per page; an exhausted page fails the whole call
// with apperr.ErrUpstreamUnavailable so the caller never sees a gap.
func (c *Client) FetchSince(ctx context.Context, address string, afterLedger int64) (Batch, error) {
	params := accountTxParams{
		Account:        address,
		LedgerIndexMin: afterLedger + 1,
		LedgerIndexMax: -1,
		Forward:        true,
		Limit:          c.pageLimit,
	}
	if afterLedger <= 0 {
		params.LedgerIndexMin = -1
	}

	var batch Batch
	for page := 0; ; page++ {
		if page >= c.maxPages {
			batch.Truncated = true
			c.logger.Warn("account_tx page cap reached",
				"address", address,
				"pages", page,
				"transactions", len(batch.Transactions),
			)
			break
		}

		result, err := c.accountTx(ctx, params)
		if err != nil {
			var rpcErr *RPCError
			if errors.As(err, &rpcErr) && emptyHistory(rpcErr) {
				break
			}
			return Batch{}, fmt.Errorf("account_tx %s: %w", address, err)
		}

		if result.LedgerIndexMax > batch.ValidatedThrough {
			batch.ValidatedThrough = result.LedgerIndexMax
		}
		for _, item := range result.Transactions {
			tx, ok, err := item.toTransaction()
			if err != nil {
				return Batch{}, fmt.Errorf("account_tx %s: %w", address, err)
			}
			if ok {
				batch.Transactions = append(batch.Transactions, tx)
			}
		}

		if len(result.Marker) == 0 || bytes.Equal(result.Marker, []byte("null")) {
			break
		}
		params.Marker = result.Marker
	}

	sort.SliceStable(batch.Transactions, func(i, j int) bool {
		a, b := batch.Transactions[i], batch.Transactions[j]
		if a.LedgerIndex != b.LedgerIndex {
			return a.LedgerIndex < b.LedgerIndex
		}
		return a.TransactionIndex < b.TransactionIndex
	})
	return batch, nil
}

// emptyHistory covers an account that is not funded yet and a cursor that is
// already past the server's latest validated ledger.
func emptyHistory(err *RPCError) bool {
	return err.Code == "actNotFound" || err.Code == "lgrIdxsInvalid"
}

func (c *Client) accountTx(ctx context.Context, params accountTxParams) (*accountTxResult, error) {
	var result accountTxResult
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		raw, err := c.call(ctx, methodAccountTx, params)
		ratelimit.RecordRPCCall(methodAccountTx, err)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return retry.Terminal(fmt.Errorf("unmarshal account_tx result: %w", err))
		}
		return nil
	}, func(err error, next time.Duration) {
		c.logger.Warn("ledger call failed, retrying",
			"method", methodAccountTx,
			"account", params.Account,
			"error", err,
			"retry_in", next,
		)
	})
	if err != nil {
		if retry.IsTransient(err) {
			return nil, fmt.Errorf("%w: %w", apperr.ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	return &result, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(request{Method: method, Params: []any{params}})
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Transient(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("http status %d: %s", resp.StatusCode, truncateBody(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retry.Transient(err)
		}
		return nil, retry.Terminal(err)
	}

	var rpcResp response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, retry.Terminal(fmt.Errorf("unmarshal response: %w", err))
	}

	var status resultStatus
	if err := json.Unmarshal(rpcResp.Result, &status); err != nil {
		return nil, retry.Terminal(fmt.Errorf("unmarshal result status: %w", err))
	}
	if status.Status == statusError || status.Error != "" {
		rpcErr := &RPCError{Code: status.Error, ErrorCode: status.ErrorCode, Message: status.ErrorMessage}
		if rpcErr.Retryable() {
			return nil, retry.Transient(rpcErr)
		}
		return nil, retry.Terminal(rpcErr)
	}

	return rpcResp.Result, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
