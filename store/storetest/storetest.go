// Package storetest is a conformance suite for store.Store
// implementations. Each backend's tests call Run with a constructor that
// returns an empty, migrated store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/credit"
	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/id"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/store"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

// Factory returns an empty, migrated store. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

// Run executes the full suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("Commit", func(t *testing.T) { testCommit(t, newStore(t)) })
	t.Run("CommitConflicts", func(t *testing.T) { testCommitConflicts(t, newStore(t)) })
	t.Run("Emissions", func(t *testing.T) { testEmissions(t, newStore(t)) })
	t.Run("ListTransactions", func(t *testing.T) { testListTransactions(t, newStore(t)) })
	t.Run("Settings", func(t *testing.T) { testSettings(t, newStore(t)) })
	t.Run("ClientPricing", func(t *testing.T) { testClientPricing(t, newStore(t)) })
	t.Run("Adjustments", func(t *testing.T) { testAdjustments(t, newStore(t)) })
	t.Run("LedgerScenario", func(t *testing.T) { testLedgerScenario(t, newStore(t)) })
	t.Run("LedgerCrossProcessRace", func(t *testing.T) { testCrossProcessRace(t, newStore(t)) })
}

func newAccount(clientID string, balance int64) *account.Account {
	return &account.Account{
		Entity:         types.NewEntity(),
		ClientID:       clientID,
		DisplayName:    "Client " + clientID,
		Balance:        types.USD(balance),
		InitialBalance: types.USD(balance),
	}
}

// nextTx builds the transaction that follows a at its current version.
func nextTx(a *account.Account, typ transaction.Type, amount int64, emissionID string) *transaction.Transaction {
	tx := &transaction.Transaction{
		ID:          id.NewTransactionID(),
		ClientID:    a.ClientID,
		Type:        typ,
		Amount:      types.USD(amount),
		EmissionID:  emissionID,
		Description: string(typ) + " " + emissionID,
		PerformedBy: "tester",
		Sequence:    a.Version + 1,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	tx.PreviousBalance = a.Balance
	tx.NewBalance = tx.Apply(a.Balance)
	return tx
}

func mustCreate(t *testing.T, s store.Store, a *account.Account) {
	t.Helper()
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount(%s) error: %v", a.ClientID, err)
	}
}

func mustGet(t *testing.T, s store.Store, clientID string) *account.Account {
	t.Helper()
	a, err := s.GetAccount(context.Background(), clientID)
	if err != nil {
		t.Fatalf("GetAccount(%s) error: %v", clientID, err)
	}
	return a
}

// commit applies a transaction at the account's current version.
func commit(t *testing.T, s store.Store, clientID string, typ transaction.Type, amount int64, emissionID string) *transaction.Transaction {
	t.Helper()
	a := mustGet(t, s, clientID)
	tx := nextTx(a, typ, amount, emissionID)
	if err := s.CommitTransaction(context.Background(), a.Version, tx); err != nil {
		t.Fatalf("CommitTransaction(%s %d) error: %v", typ, amount, err)
	}
	return tx
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetAccount(ctx, "missing"); !errors.Is(err, credit.ErrAccountNotFound) {
		t.Fatalf("GetAccount(missing) err = %v, want ErrAccountNotFound", err)
	}

	mustCreate(t, s, newAccount("acme", 10000))
	mustCreate(t, s, newAccount("globex", 500))

	if err := s.CreateAccount(ctx, newAccount("acme", 1)); !errors.Is(err, credit.ErrAccountExists) {
		t.Fatalf("duplicate CreateAccount err = %v, want ErrAccountExists", err)
	}

	got := mustGet(t, s, "acme")
	if got.Balance.Amount != 10000 || got.InitialBalance.Amount != 10000 {
		t.Errorf("balance = %d/%d, want 10000/10000", got.Balance.Amount, got.InitialBalance.Amount)
	}
	if got.Balance.Currency != "usd" {
		t.Errorf("currency = %q, want usd", got.Balance.Currency)
	}
	if got.Version != 0 {
		t.Errorf("version = %d, want 0", got.Version)
	}
	if got.DisplayName != "Client acme" {
		t.Errorf("display name = %q", got.DisplayName)
	}

	if err := s.UpdateDisplayName(ctx, "acme", "ACME Corp"); err != nil {
		t.Fatalf("UpdateDisplayName() error: %v", err)
	}
	if got := mustGet(t, s, "acme"); got.DisplayName != "ACME Corp" {
		t.Errorf("display name after rename = %q", got.DisplayName)
	}
	if err := s.UpdateDisplayName(ctx, "missing", "x"); !errors.Is(err, credit.ErrAccountNotFound) {
		t.Errorf("UpdateDisplayName(missing) err = %v, want ErrAccountNotFound", err)
	}

	all, err := s.ListAccounts(ctx, account.ListOpts{})
	if err != nil {
		t.Fatalf("ListAccounts() error: %v", err)
	}
	if len(all) != 2 || all[0].ClientID != "acme" || all[1].ClientID != "globex" {
		t.Fatalf("ListAccounts() = %v, want [acme globex]", clientIDs(all))
	}

	found, err := s.ListAccounts(ctx, account.ListOpts{Search: "corp"})
	if err != nil {
		t.Fatalf("ListAccounts(search) error: %v", err)
	}
	if len(found) != 1 || found[0].ClientID != "acme" {
		t.Errorf("ListAccounts(search=corp) = %v, want [acme]", clientIDs(found))
	}

	page, err := s.ListAccounts(ctx, account.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListAccounts(page) error: %v", err)
	}
	if len(page) != 1 || page[0].ClientID != "globex" {
		t.Errorf("ListAccounts(limit=1, offset=1) = %v, want [globex]", clientIDs(page))
	}
}

func clientIDs(as []*account.Account) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ClientID
	}
	return out
}

func testCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, newAccount("acme", 10000))

	tx := commit(t, s, "acme", transaction.TypeCredit, 5000, "")

	a := mustGet(t, s, "acme")
	if a.Balance.Amount != 15000 || a.Version != 1 {
		t.Fatalf("after credit: balance=%d version=%d, want 15000/1", a.Balance.Amount, a.Version)
	}

	got, err := s.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("GetTransaction() error: %v", err)
	}
	if got.ID.String() != tx.ID.String() ||
		got.ClientID != "acme" ||
		got.Type != transaction.TypeCredit ||
		!got.Amount.Equal(types.USD(5000)) ||
		!got.PreviousBalance.Equal(types.USD(10000)) ||
		!got.NewBalance.Equal(types.USD(15000)) ||
		got.EmissionID != "" ||
		got.Description != tx.Description ||
		got.PerformedBy != "tester" ||
		got.Sequence != 1 ||
		!got.CreatedAt.Equal(tx.CreatedAt) {
		t.Errorf("GetTransaction() = %+v, want %+v", got, tx)
	}

	if _, err := s.GetTransaction(ctx, id.NewTransactionID()); !errors.Is(err, credit.ErrTransactionNotFound) {
		t.Errorf("GetTransaction(unknown) err = %v, want ErrTransactionNotFound", err)
	}

	orphan := nextTx(newAccount("ghost", 0), transaction.TypeCredit, 1, "")
	if err := s.CommitTransaction(ctx, 0, orphan); !errors.Is(err, credit.ErrAccountNotFound) {
		t.Errorf("CommitTransaction(unknown account) err = %v, want ErrAccountNotFound", err)
	}
}

func testCommitConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, newAccount("acme", 10000))

	stale := mustGet(t, s, "acme")
	commit(t, s, "acme", transaction.TypeDebit, 1000, "")

	// Computed from the stale read; must be rejected without any write.
	tx := nextTx(stale, transaction.TypeDebit, 2000, "")
	if err := s.CommitTransaction(ctx, stale.Version, tx); !errors.Is(err, credit.ErrStorageConflict) {
		t.Fatalf("stale commit err = %v, want ErrStorageConflict", err)
	}

	a := mustGet(t, s, "acme")
	if a.Balance.Amount != 9000 || a.Version != 1 {
		t.Errorf("after stale commit: balance=%d version=%d, want 9000/1", a.Balance.Amount, a.Version)
	}
	if _, err := s.GetTransaction(ctx, tx.ID); !errors.Is(err, credit.ErrTransactionNotFound) {
		t.Errorf("stale transaction was persisted (err = %v)", err)
	}

	// The balance covers every duplicate below, so only the emission key
	// can reject them.
	commit(t, s, "acme", transaction.TypeConsume, 1000, "E1")
	a = mustGet(t, s, "acme")
	for _, amount := range []int64{1000, 500} {
		dup := nextTx(a, transaction.TypeConsume, amount, "E1")
		if err := s.CommitTransaction(ctx, a.Version, dup); !errors.Is(err, credit.ErrDuplicateEmission) {
			t.Fatalf("duplicate consume of %d err = %v, want ErrDuplicateEmission", amount, err)
		}
		if _, err := s.GetTransaction(ctx, dup.ID); !errors.Is(err, credit.ErrTransactionNotFound) {
			t.Errorf("duplicate consume was persisted (err = %v)", err)
		}
	}
	after := mustGet(t, s, "acme")
	if after.Balance.Amount != 8000 || after.Version != a.Version {
		t.Errorf("duplicate consume changed account: balance=%d version=%d, want 8000/%d",
			after.Balance.Amount, after.Version, a.Version)
	}
}

func testEmissions(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, newAccount("acme", 10000))
	mustCreate(t, s, newAccount("globex", 10000))

	none, err := s.FindByEmission(ctx, "acme", "E1")
	if err != nil {
		t.Fatalf("FindByEmission() error: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("FindByEmission(unknown) = %d records, want 0", len(none))
	}

	consume := commit(t, s, "acme", transaction.TypeConsume, 4600, "E1")
	commit(t, s, "acme", transaction.TypeConsume, 1000, "E2")
	refund := commit(t, s, "acme", transaction.TypeRefund, 4600, "E1")
	// Same emission id on another client is independent.
	commit(t, s, "globex", transaction.TypeConsume, 700, "E1")

	got, err := s.FindByEmission(ctx, "acme", "E1")
	if err != nil {
		t.Fatalf("FindByEmission() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("FindByEmission(acme, E1) = %d records, want 2", len(got))
	}
	if got[0].ID.String() != consume.ID.String() || got[1].ID.String() != refund.ID.String() {
		t.Errorf("FindByEmission order = [%s %s], want [consume refund]", got[0].Type, got[1].Type)
	}

	a := mustGet(t, s, "acme")
	if a.Balance.Amount != 9000 {
		t.Errorf("balance = %d, want 9000", a.Balance.Amount)
	}
}

func testListTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, newAccount("acme", 10000))

	commit(t, s, "acme", transaction.TypeCredit, 5000, "")
	commit(t, s, "acme", transaction.TypeConsume, 4600, "E1")
	commit(t, s, "acme", transaction.TypeRefund, 4600, "E1")
	commit(t, s, "acme", transaction.TypeDebit, 100, "")

	tests := []struct {
		name string
		opts transaction.ListOpts
		want []int64
	}{
		{"newest first", transaction.ListOpts{}, []int64{4, 3, 2, 1}},
		{"ascending", transaction.ListOpts{Ascending: true}, []int64{1, 2, 3, 4}},
		{"by type", transaction.ListOpts{Type: transaction.TypeConsume}, []int64{2}},
		{"paged", transaction.ListOpts{Limit: 2, Offset: 1}, []int64{3, 2}},
		{"offset past end", transaction.ListOpts{Offset: 10}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListTransactions(ctx, "acme", tt.opts)
			if err != nil {
				t.Fatalf("ListTransactions() error: %v", err)
			}
			seqs := make([]int64, len(got))
			for i, tx := range got {
				seqs[i] = tx.Sequence
			}
			if fmt.Sprint(seqs) != fmt.Sprint(tt.want) {
				t.Errorf("sequences = %v, want %v", seqs, tt.want)
			}
		})
	}

	other, err := s.ListTransactions(ctx, "nobody", transaction.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions(nobody) error: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("ListTransactions(nobody) = %d records, want 0", len(other))
	}
}

func testSettings(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetSettings(ctx); !errors.Is(err, credit.ErrSettingsNotFound) {
		t.Fatalf("GetSettings() before save err = %v, want ErrSettingsNotFound", err)
	}

	want := &settings.System{
		DefaultInitialCredits:   types.USD(10000),
		DefaultMarkupPercentage: decimal.RequireFromString("12.5"),
		LowBalanceThreshold:     types.USD(2000),
		UpdatedBy:               "admin",
		UpdatedAt:               time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatalf("SaveSettings() error: %v", err)
	}

	want.DefaultMarkupPercentage = decimal.NewFromInt(15)
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatalf("SaveSettings() overwrite error: %v", err)
	}

	got, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() error: %v", err)
	}
	if !got.DefaultInitialCredits.Equal(want.DefaultInitialCredits) ||
		!got.LowBalanceThreshold.Equal(want.LowBalanceThreshold) ||
		!got.DefaultMarkupPercentage.Equal(want.DefaultMarkupPercentage) ||
		got.UpdatedBy != "admin" ||
		!got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("GetSettings() = %+v, want %+v", got, want)
	}
}

func testClientPricing(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetClientPricing(ctx, "acme"); !errors.Is(err, credit.ErrClientPricingNotFound) {
		t.Fatalf("GetClientPricing() before save err = %v, want ErrClientPricingNotFound", err)
	}

	markup := decimal.NewFromInt(10)
	if err := s.SaveClientPricing(ctx, &settings.ClientPricing{
		ClientID:         "acme",
		MarkupPercentage: &markup,
		EnabledCarriers:  []string{"fedex", "ups"},
		UpdatedAt:        time.Now().UTC(),
	}); err != nil {
		t.Fatalf("SaveClientPricing() error: %v", err)
	}

	got, err := s.GetClientPricing(ctx, "acme")
	if err != nil {
		t.Fatalf("GetClientPricing() error: %v", err)
	}
	if got.MarkupPercentage == nil || !got.MarkupPercentage.Equal(markup) {
		t.Errorf("markup = %v, want 10", got.MarkupPercentage)
	}
	if fmt.Sprint(got.EnabledCarriers) != "[fedex ups]" {
		t.Errorf("carriers = %v, want [fedex ups]", got.EnabledCarriers)
	}

	// Clearing the override keeps the record with no markup.
	if err := s.SaveClientPricing(ctx, &settings.ClientPricing{ClientID: "acme", UpdatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("SaveClientPricing() clear error: %v", err)
	}
	got, err = s.GetClientPricing(ctx, "acme")
	if err != nil {
		t.Fatalf("GetClientPricing() error: %v", err)
	}
	if got.MarkupPercentage != nil {
		t.Errorf("markup after clear = %v, want nil", got.MarkupPercentage)
	}
	if len(got.EnabledCarriers) != 0 {
		t.Errorf("carriers after clear = %v, want none", got.EnabledCarriers)
	}
}

func testAdjustments(t *testing.T, s store.Store) {
	ctx := context.Background()

	for i, a := range []*adjustment.Adjustment{
		{ClientID: "acme", EmissionID: "E1", Reason: "carrier surcharge"},
		{ClientID: "acme", EmissionID: "E2", Reason: "weight correction"},
		{ClientID: "globex", EmissionID: "E1", Reason: "goodwill"},
	} {
		a.ID = id.NewAdjustmentID()
		a.OriginalCost = types.USD(4000)
		a.AdjustedCost = types.USD(int64(4200 + i))
		a.SalePrice = types.USD(4830)
		a.PerformedBy = "admin"
		a.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second).Truncate(time.Millisecond)
		if err := s.CreateAdjustment(ctx, a); err != nil {
			t.Fatalf("CreateAdjustment() error: %v", err)
		}
	}

	tests := []struct {
		name string
		opts adjustment.ListOpts
		want []string
	}{
		{"all newest first", adjustment.ListOpts{}, []string{"goodwill", "weight correction", "carrier surcharge"}},
		{"by client", adjustment.ListOpts{ClientID: "acme"}, []string{"weight correction", "carrier surcharge"}},
		{"by emission", adjustment.ListOpts{ClientID: "acme", EmissionID: "E1"}, []string{"carrier surcharge"}},
		{"paged", adjustment.ListOpts{Limit: 1, Offset: 1}, []string{"weight correction"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListAdjustments(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListAdjustments() error: %v", err)
			}
			reasons := make([]string, len(got))
			for i, a := range got {
				reasons[i] = a.Reason
			}
			if fmt.Sprint(reasons) != fmt.Sprint(tt.want) {
				t.Errorf("reasons = %v, want %v", reasons, tt.want)
			}
		})
	}

	got, err := s.ListAdjustments(ctx, adjustment.ListOpts{ClientID: "acme", EmissionID: "E1"})
	if err != nil || len(got) != 1 {
		t.Fatalf("ListAdjustments() = %v, %v", got, err)
	}
	if !got[0].SalePrice.Equal(types.USD(4830)) || !got[0].AdjustedCost.Equal(types.USD(4200)) {
		t.Errorf("amounts = %v/%v, want 48.30/42.00", got[0].SalePrice, got[0].AdjustedCost)
	}
}

func newLedger(s store.Store) *credit.Ledger {
	return credit.New(s,
		credit.WithDefaults(settings.System{
			DefaultInitialCredits:   types.USD(10000),
			DefaultMarkupPercentage: decimal.NewFromInt(15),
			LowBalanceThreshold:     types.USD(2000),
		}),
		credit.WithConflictRetries(50, time.Millisecond),
	)
}

func testLedgerScenario(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := newLedger(s)

	if _, err := l.EnsureProvisioned(ctx, "acme", "ACME"); err != nil {
		t.Fatalf("EnsureProvisioned() error: %v", err)
	}
	if _, err := l.Credit(ctx, "acme", types.USD(5000), "bonus", "admin"); err != nil {
		t.Fatalf("Credit() error: %v", err)
	}
	q, err := l.Price(ctx, "acme", types.USD(4000))
	if err != nil {
		t.Fatalf("Price() error: %v", err)
	}
	if _, err := l.ConsumeForEmission(ctx, "acme", "E1", q.SaleAmount, "label"); err != nil {
		t.Fatalf("ConsumeForEmission() error: %v", err)
	}
	if _, err := l.RefundForEmission(ctx, "acme", "E1", q.SaleAmount, "carrier rejected"); err != nil {
		t.Fatalf("RefundForEmission() error: %v", err)
	}
	if _, err := l.ConsumeForEmission(ctx, "acme", "E1", q.SaleAmount, "retry"); !errors.Is(err, credit.ErrEmissionClosed) {
		t.Fatalf("consume after refund err = %v, want ErrEmissionClosed", err)
	}

	bal, err := l.GetBalance(ctx, "acme")
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if bal.Amount != 15000 {
		t.Errorf("balance = %d, want 15000", bal.Amount)
	}

	r, err := l.Reconcile(ctx, "acme")
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if !r.Consistent || r.Transactions != 3 {
		t.Errorf("Reconcile() = %+v, want consistent with 3 transactions", r)
	}
}

// testCrossProcessRace runs two ledgers over one store so that only the
// store's version check serializes them.
func testCrossProcessRace(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := newLedger(s), newLedger(s)

	if _, err := a.EnsureProvisioned(ctx, "acme", ""); err != nil {
		t.Fatalf("EnsureProvisioned() error: %v", err)
	}

	const workers = 8
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok           int
		insufficient int
		other        []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := a
			if i%2 == 1 {
				l = b
			}
			// 100.00 covers two 46.00 labels, not three.
			_, err := l.ConsumeForEmission(ctx, "acme", fmt.Sprintf("E%d", i), types.USD(4600), "label")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, credit.ErrInsufficientFunds):
				insufficient++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if ok != 2 || insufficient != workers-2 {
		t.Errorf("successes=%d insufficient=%d, want 2/%d", ok, insufficient, workers-2)
	}

	bal, err := a.GetBalance(ctx, "acme")
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if bal.Amount != 800 {
		t.Errorf("balance = %d, want 800", bal.Amount)
	}

	r, err := b.Reconcile(ctx, "acme")
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if !r.Consistent {
		t.Errorf("Reconcile() = %+v, want consistent", r)
	}
}
