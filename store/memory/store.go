// Package memory provides an in-process implementation of store.Store for
// tests and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/xraph/credit"
	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/id"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/store"
	"github.com/xraph/credit/transaction"
)

var _ store.Store = (*Store)(nil)

type emissionKey struct {
	clientID   string
	emissionID string
	typ        transaction.Type
}

// Store keeps all records in maps guarded by one RWMutex. Returned
// records are copies.
type Store struct {
	mu sync.RWMutex

	accounts map[string]*account.Account

	// Transaction log
	transactions map[string]*transaction.Transaction
	byClient     map[string][]*transaction.Transaction // sequence order
	byEmission   map[emissionKey]*transaction.Transaction

	settings    *settings.System
	pricing     map[string]*settings.ClientPricing
	adjustments []*adjustment.Adjustment
}

func New() *Store {
	return &Store{
		accounts:     make(map[string]*account.Account),
		transactions: make(map[string]*transaction.Transaction),
		byClient:     make(map[string][]*transaction.Transaction),
		byEmission:   make(map[emissionKey]*transaction.Transaction),
		pricing:      make(map[string]*settings.ClientPricing),
	}
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ClientID]; exists {
		return credit.ErrAccountExists
	}
	cp := *a
	s.accounts[a.ClientID] = &cp
	return nil
}

func (s *Store) GetAccount(_ context.Context, clientID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[clientID]
	if !ok {
		return nil, credit.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAccounts(_ context.Context, opts account.ListOpts) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(opts.Search)
	result := make([]*account.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if search != "" &&
			!strings.Contains(strings.ToLower(a.ClientID), search) &&
			!strings.Contains(strings.ToLower(a.DisplayName), search) {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	slices.SortFunc(result, func(x, y *account.Account) int {
		return strings.Compare(x.ClientID, y.ClientID)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateDisplayName(_ context.Context, clientID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[clientID]
	if !ok {
		return credit.ErrAccountNotFound
	}
	a.DisplayName = displayName
	a.Touch()
	return nil
}

// ==================== Transaction Store ====================

func (s *Store) CommitTransaction(_ context.Context, expectedVersion int64, tx *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[tx.ClientID]
	if !ok {
		return credit.ErrAccountNotFound
	}
	if a.Version != expectedVersion || tx.Sequence != expectedVersion+1 {
		return credit.ErrStorageConflict
	}
	if tx.NewBalance.IsNegative() {
		return fmt.Errorf("memory: commit %s: negative balance", tx.ID)
	}

	var key emissionKey
	if tx.Type.IsEmission() {
		key = emissionKey{tx.ClientID, tx.EmissionID, tx.Type}
		if _, dup := s.byEmission[key]; dup {
			return credit.ErrDuplicateEmission
		}
	}

	cp := *tx
	s.transactions[cp.ID.String()] = &cp
	s.byClient[cp.ClientID] = append(s.byClient[cp.ClientID], &cp)
	if cp.Type.IsEmission() {
		s.byEmission[key] = &cp
	}

	a.Balance = cp.NewBalance
	a.Version = cp.Sequence
	a.Touch()
	return nil
}

func (s *Store) GetTransaction(_ context.Context, txID id.TransactionID) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[txID.String()]
	if !ok {
		return nil, credit.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *Store) FindByEmission(_ context.Context, clientID, emissionID string) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*transaction.Transaction, 0, 2)
	for _, typ := range []transaction.Type{transaction.TypeConsume, transaction.TypeRefund} {
		if tx, ok := s.byEmission[emissionKey{clientID, emissionID, typ}]; ok {
			cp := *tx
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *Store) ListTransactions(_ context.Context, clientID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.byClient[clientID]
	result := make([]*transaction.Transaction, 0, len(log))
	for _, tx := range log {
		if opts.Type != "" && tx.Type != opts.Type {
			continue
		}
		cp := *tx
		result = append(result, &cp)
	}
	if !opts.Ascending {
		slices.Reverse(result)
	}

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ==================== Settings Store ====================

func (s *Store) GetSettings(_ context.Context) (*settings.System, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil, credit.ErrSettingsNotFound
	}
	cp := *s.settings
	return &cp, nil
}

func (s *Store) SaveSettings(_ context.Context, sys *settings.System) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sys
	s.settings = &cp
	return nil
}

func (s *Store) GetClientPricing(_ context.Context, clientID string) (*settings.ClientPricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pricing[clientID]
	if !ok {
		return nil, credit.ErrClientPricingNotFound
	}
	return clonePricing(p), nil
}

func (s *Store) SaveClientPricing(_ context.Context, p *settings.ClientPricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pricing[p.ClientID] = clonePricing(p)
	return nil
}

func clonePricing(p *settings.ClientPricing) *settings.ClientPricing {
	cp := *p
	if p.MarkupPercentage != nil {
		m := *p.MarkupPercentage
		cp.MarkupPercentage = &m
	}
	cp.EnabledCarriers = slices.Clone(p.EnabledCarriers)
	return &cp
}

// ==================== Adjustment Store ====================

func (s *Store) CreateAdjustment(_ context.Context, a *adjustment.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.adjustments = append(s.adjustments, &cp)
	return nil
}

func (s *Store) ListAdjustments(_ context.Context, opts adjustment.ListOpts) ([]*adjustment.Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*adjustment.Adjustment, 0)
	for i := len(s.adjustments) - 1; i >= 0; i-- {
		a := s.adjustments[i]
		if opts.ClientID != "" && a.ClientID != opts.ClientID {
			continue
		}
		if opts.EmissionID != "" && a.EmissionID != opts.EmissionID {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ==================== Lifecycle ====================

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func paginate[T any](items []T, offset, limit int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
