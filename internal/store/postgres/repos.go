package postgres

import "github.com/sugartrades/sugar-flow-academy-sub001/internal/store"

// NewRepos wires every PostgreSQL repository over one pool.
func NewRepos(db *DB) store.Repos {
	return store.Repos{
		Wallets:       NewWalletRepo(db),
		Transactions:  NewTransactionRepo(db),
		Alerts:        NewAlertRepo(db),
		Health:        NewHealthRepo(db),
		Subscriptions: NewSubscriptionRepo(db),
	}
}

var (
	_ store.WalletRepository       = (*WalletRepo)(nil)
	_ store.TransactionRepository  = (*TransactionRepo)(nil)
	_ store.AlertRepository        = (*AlertRepo)(nil)
	_ store.HealthRepository       = (*HealthRepo)(nil)
	_ store.SubscriptionRepository = (*SubscriptionRepo)(nil)
)
