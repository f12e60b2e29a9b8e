// Package memory is a process-local store with the same conditional-write
// semantics as the PostgreSQL repositories. It backs tests and dry runs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store"
)

type subKey struct {
	userID string
	tier   model.AlertTier
}

// Store holds every table behind a single mutex.
type Store struct {
	mu sync.Mutex

	now func() time.Time

	wallets       map[string]*model.MonitoredWallet
	transactions  map[string]*model.NormalizedTransaction
	alerts        map[uuid.UUID]*model.WhaleAlert
	alertsByHash  map[string]uuid.UUID
	health        []model.MonitoringHealth
	subscriptions map[subKey]*model.TelegramSubscription
	nextHealthID  int64
}

func New() *Store {
	return &Store{
		now:           time.Now,
		wallets:       make(map[string]*model.MonitoredWallet),
		transactions:  make(map[string]*model.NormalizedTransaction),
		alerts:        make(map[uuid.UUID]*model.WhaleAlert),
		alertsByHash:  make(map[string]uuid.UUID),
		subscriptions: make(map[subKey]*model.TelegramSubscription),
	}
}

// SetClock replaces the source of created_at and updated_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Repos exposes the store through the repository interfaces.
func (s *Store) Repos() store.Repos {
	return store.Repos{
		Wallets:       (*walletRepo)(s),
		Transactions:  (*transactionRepo)(s),
		Alerts:        (*alertRepo)(s),
		Health:        (*healthRepo)(s),
		Subscriptions: (*subscriptionRepo)(s),
	}
}

// ---------- wallets ----------

type walletRepo Store

func (r *walletRepo) List(ctx context.Context) ([]model.MonitoredWallet, error) {
	return r.filter(func(model.MonitoredWallet) bool { return true }), nil
}

func (r *walletRepo) ListActive(ctx context.Context) ([]model.MonitoredWallet, error) {
	return r.filter(func(w model.MonitoredWallet) bool { return w.IsActive }), nil
}

func (r *walletRepo) filter(keep func(model.MonitoredWallet) bool) []model.MonitoredWallet {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.MonitoredWallet
	for _, w := range r.wallets {
		if keep(*w) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func (r *walletRepo) Get(ctx context.Context, address string) (*model.MonitoredWallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wallets[address]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (r *walletRepo) Upsert(ctx context.Context, w *model.MonitoredWallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.wallets[w.Address]; ok {
		existing.OwnerName = w.OwnerName
		if w.AlertThreshold.Valid {
			existing.AlertThreshold = w.AlertThreshold
		}
		existing.UpdatedAt = now
		return nil
	}
	r.wallets[w.Address] = &model.MonitoredWallet{
		Address:        w.Address,
		OwnerName:      w.OwnerName,
		IsActive:       w.IsActive,
		AlertThreshold: w.AlertThreshold,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return nil
}

func (r *walletRepo) AdvanceCursor(ctx context.Context, address string, ledgerIndex int64, checkedAt time.Time) error {
	return r.update(address, func(w *model.MonitoredWallet) {
		if ledgerIndex > w.LastLedgerIndex {
			w.LastLedgerIndex = ledgerIndex
		}
		t := checkedAt
		w.LastCheckedAt = &t
	})
}

func (r *walletRepo) Update(ctx context.Context, address string, p store.WalletPatch) error {
	return r.update(address, func(w *model.MonitoredWallet) {
		if p.IsActive != nil {
			w.IsActive = *p.IsActive
		}
		if p.AlertThreshold != nil {
			w.AlertThreshold = *p.AlertThreshold
		}
	})
}

func (r *walletRepo) update(address string, fn func(*model.MonitoredWallet)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wallets[address]
	if !ok {
		return fmt.Errorf("wallet %s: %w", address, apperr.ErrWalletNotFound)
	}
	fn(w)
	w.UpdatedAt = r.now()
	return nil
}

// ---------- transactions ----------

type transactionRepo Store

func (r *transactionRepo) InsertIfAbsent(ctx context.Context, t *model.NormalizedTransaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.transactions[t.TransactionHash]; ok {
		return false, nil
	}
	cp := *t
	cp.CreatedAt = r.now()
	r.transactions[t.TransactionHash] = &cp
	t.CreatedAt = cp.CreatedAt
	return true, nil
}

func (r *transactionRepo) ListByWallet(ctx context.Context, address string, limit int) ([]model.NormalizedTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.NormalizedTransaction
	for _, t := range r.transactions {
		if t.WalletAddress == address {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LedgerIndex > out[j].LedgerIndex })
	return truncate(out, limit), nil
}

// ---------- alerts ----------

type alertRepo Store

func (r *alertRepo) InsertIfAbsent(ctx context.Context, a *model.WhaleAlert) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.alertsByHash[a.TransactionHash]; ok {
		return false, nil
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.IsSent = false
	a.SentAt = nil
	a.CreatedAt = r.now()

	cp := *a
	r.alerts[a.ID] = &cp
	r.alertsByHash[a.TransactionHash] = a.ID
	return true, nil
}

func (r *alertRepo) ListPending(ctx context.Context, q store.PendingQuery) ([]model.WhaleAlert, error) {
	tiers := make(map[model.AlertTier]bool, len(q.Tiers))
	for _, t := range q.Tiers {
		tiers[t] = true
	}
	out := r.collect(func(a *model.WhaleAlert) bool {
		if a.IsSent {
			return false
		}
		if len(tiers) > 0 && !tiers[a.AlertType] {
			return false
		}
		return q.After == nil || q.After.Before(*a)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return truncate(out, q.Limit), nil
}

func (r *alertRepo) ListRecent(ctx context.Context, limit int) ([]model.WhaleAlert, error) {
	out := r.collect(func(*model.WhaleAlert) bool { return true })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (r *alertRepo) collect(keep func(*model.WhaleAlert) bool) []model.WhaleAlert {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.WhaleAlert
	for _, a := range r.alerts {
		if keep(a) {
			out = append(out, copyAlert(a))
		}
	}
	// Map iteration is random; order ties by hash for stable output.
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionHash < out[j].TransactionHash })
	return out
}

func (r *alertRepo) GetByTxHash(ctx context.Context, txHash string) (*model.WhaleAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.alertsByHash[txHash]
	if !ok {
		return nil, nil
	}
	a := copyAlert(r.alerts[id])
	return &a, nil
}

func (r *alertRepo) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.alerts[id]
	if !ok || a.IsSent {
		return false, nil
	}
	t := sentAt
	a.IsSent = true
	a.SentAt = &t
	return true, nil
}

func copyAlert(a *model.WhaleAlert) model.WhaleAlert {
	cp := *a
	if a.SentAt != nil {
		t := *a.SentAt
		cp.SentAt = &t
	}
	if a.ExchangeName != nil {
		name := *a.ExchangeName
		cp.ExchangeName = &name
	}
	return cp
}

// ---------- health ----------

type healthRepo Store

func (r *healthRepo) Append(ctx context.Context, h *model.MonitoringHealth) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextHealthID++
	h.ID = r.nextHealthID
	r.health = append(r.health, *h)
	return nil
}

func (r *healthRepo) Latest(ctx context.Context, limit int) ([]model.MonitoringHealth, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.MonitoringHealth, len(r.health))
	copy(out, r.health)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastCheckAt.Equal(out[j].LastCheckAt) {
			return out[i].LastCheckAt.After(out[j].LastCheckAt)
		}
		return out[i].ID > out[j].ID
	})
	return truncate(out, limit), nil
}

// ---------- subscriptions ----------

type subscriptionRepo Store

func (r *subscriptionRepo) Upsert(ctx context.Context, s *model.TelegramSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	key := subKey{userID: s.UserID, tier: s.SubscriptionType}
	if existing, ok := r.subscriptions[key]; ok {
		existing.ChatID = s.ChatID
		existing.IsActive = true
		existing.UpdatedAt = now
	} else {
		r.subscriptions[key] = &model.TelegramSubscription{
			UserID:           s.UserID,
			ChatID:           s.ChatID,
			SubscriptionType: s.SubscriptionType,
			IsActive:         true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}
	s.IsActive = true
	return nil
}

func (r *subscriptionRepo) Deactivate(ctx context.Context, userID string, tier model.AlertTier) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subscriptions[subKey{userID: userID, tier: tier}]
	if !ok || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	s.UpdatedAt = r.now()
	return true, nil
}

func (r *subscriptionRepo) ListActiveByType(ctx context.Context, tier model.AlertTier) ([]model.TelegramSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.TelegramSubscription
	for _, s := range r.subscriptions {
		if s.IsActive && s.SubscriptionType == tier {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
