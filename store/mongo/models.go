package mongo

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/id"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

// ==================== Account models ====================

type accountModel struct {
	ClientID       string    `bson:"_id"`
	DisplayName    string    `bson:"display_name"`
	Currency       string    `bson:"currency"`
	Balance        int64     `bson:"balance"`
	InitialBalance int64     `bson:"initial_balance"`
	Version        int64     `bson:"version"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ClientID:       a.ClientID,
		DisplayName:    a.DisplayName,
		Currency:       a.Balance.Currency,
		Balance:        a.Balance.Amount,
		InitialBalance: a.InitialBalance.Amount,
		Version:        a.Version,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) *account.Account {
	a := &account.Account{
		ClientID:       m.ClientID,
		DisplayName:    m.DisplayName,
		Balance:        types.New(m.Balance, m.Currency),
		InitialBalance: types.New(m.InitialBalance, m.Currency),
		Version:        m.Version,
	}
	a.CreatedAt = m.CreatedAt.UTC()
	a.UpdatedAt = m.UpdatedAt.UTC()
	return a
}

// ==================== Transaction models ====================

type transactionModel struct {
	ID              string    `bson:"_id"`
	ClientID        string    `bson:"client_id"`
	Type            string    `bson:"type"`
	Currency        string    `bson:"currency"`
	Amount          int64     `bson:"amount"`
	PreviousBalance int64     `bson:"previous_balance"`
	NewBalance      int64     `bson:"new_balance"`
	EmissionID      string    `bson:"emission_id,omitempty"`
	Description     string    `bson:"description"`
	PerformedBy     string    `bson:"performed_by"`
	Sequence        int64     `bson:"sequence"`
	CreatedAt       time.Time `bson:"created_at"`
}

func toTransactionModel(tx *transaction.Transaction) *transactionModel {
	return &transactionModel{
		ID:              tx.ID.String(),
		ClientID:        tx.ClientID,
		Type:            string(tx.Type),
		Currency:        tx.Amount.Currency,
		Amount:          tx.Amount.Amount,
		PreviousBalance: tx.PreviousBalance.Amount,
		NewBalance:      tx.NewBalance.Amount,
		EmissionID:      tx.EmissionID,
		Description:     tx.Description,
		PerformedBy:     tx.PerformedBy,
		Sequence:        tx.Sequence,
		CreatedAt:       tx.CreatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &transaction.Transaction{
		ID:              txID,
		ClientID:        m.ClientID,
		Type:            transaction.Type(m.Type),
		Amount:          types.New(m.Amount, m.Currency),
		PreviousBalance: types.New(m.PreviousBalance, m.Currency),
		NewBalance:      types.New(m.NewBalance, m.Currency),
		EmissionID:      m.EmissionID,
		Description:     m.Description,
		PerformedBy:     m.PerformedBy,
		Sequence:        m.Sequence,
		CreatedAt:       m.CreatedAt.UTC(),
	}, nil
}

// ==================== Settings models ====================

const settingsDocID = "system"

type settingsModel struct {
	ID                      string    `bson:"_id"`
	Currency                string    `bson:"currency"`
	DefaultInitialCredits   int64     `bson:"default_initial_credits"`
	DefaultMarkupPercentage string    `bson:"default_markup_percentage"`
	LowBalanceThreshold     int64     `bson:"low_balance_threshold"`
	UpdatedBy               string    `bson:"updated_by"`
	UpdatedAt               time.Time `bson:"updated_at"`
}

func toSettingsModel(s *settings.System) *settingsModel {
	return &settingsModel{
		ID:                      settingsDocID,
		Currency:                s.DefaultInitialCredits.Currency,
		DefaultInitialCredits:   s.DefaultInitialCredits.Amount,
		DefaultMarkupPercentage: s.DefaultMarkupPercentage.String(),
		LowBalanceThreshold:     s.LowBalanceThreshold.Amount,
		UpdatedBy:               s.UpdatedBy,
		UpdatedAt:               s.UpdatedAt,
	}
}

func fromSettingsModel(m *settingsModel) (*settings.System, error) {
	markup, err := decimal.NewFromString(m.DefaultMarkupPercentage)
	if err != nil {
		return nil, err
	}
	return &settings.System{
		DefaultInitialCredits:   types.New(m.DefaultInitialCredits, m.Currency),
		DefaultMarkupPercentage: markup,
		LowBalanceThreshold:     types.New(m.LowBalanceThreshold, m.Currency),
		UpdatedBy:               m.UpdatedBy,
		UpdatedAt:               m.UpdatedAt.UTC(),
	}, nil
}

type clientPricingModel struct {
	ClientID         string    `bson:"_id"`
	MarkupPercentage *string   `bson:"markup_percentage,omitempty"`
	EnabledCarriers  []string  `bson:"enabled_carriers"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func toClientPricingModel(p *settings.ClientPricing) *clientPricingModel {
	m := &clientPricingModel{
		ClientID:        p.ClientID,
		EnabledCarriers: p.EnabledCarriers,
		UpdatedAt:       p.UpdatedAt,
	}
	if m.EnabledCarriers == nil {
		m.EnabledCarriers = []string{}
	}
	if p.MarkupPercentage != nil {
		v := p.MarkupPercentage.String()
		m.MarkupPercentage = &v
	}
	return m
}

func fromClientPricingModel(m *clientPricingModel) (*settings.ClientPricing, error) {
	p := &settings.ClientPricing{
		ClientID:        m.ClientID,
		EnabledCarriers: m.EnabledCarriers,
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
	if m.MarkupPercentage != nil {
		v, err := decimal.NewFromString(*m.MarkupPercentage)
		if err != nil {
			return nil, err
		}
		p.MarkupPercentage = &v
	}
	return p, nil
}

// ==================== Adjustment models ====================

type adjustmentModel struct {
	ID           string    `bson:"_id"`
	ClientID     string    `bson:"client_id"`
	EmissionID   string    `bson:"emission_id"`
	Currency     string    `bson:"currency"`
	OriginalCost int64     `bson:"original_cost"`
	AdjustedCost int64     `bson:"adjusted_cost"`
	SalePrice    int64     `bson:"sale_price"`
	Reason       string    `bson:"reason"`
	PerformedBy  string    `bson:"performed_by"`
	CreatedAt    time.Time `bson:"created_at"`
}

func toAdjustmentModel(a *adjustment.Adjustment) *adjustmentModel {
	return &adjustmentModel{
		ID:           a.ID.String(),
		ClientID:     a.ClientID,
		EmissionID:   a.EmissionID,
		Currency:     a.SalePrice.Currency,
		OriginalCost: a.OriginalCost.Amount,
		AdjustedCost: a.AdjustedCost.Amount,
		SalePrice:    a.SalePrice.Amount,
		Reason:       a.Reason,
		PerformedBy:  a.PerformedBy,
		CreatedAt:    a.CreatedAt,
	}
}

func fromAdjustmentModel(m *adjustmentModel) (*adjustment.Adjustment, error) {
	adjID, err := id.ParseAdjustmentID(m.ID)
	if err != nil {
		return nil, err
	}
	return &adjustment.Adjustment{
		ID:           adjID,
		ClientID:     m.ClientID,
		EmissionID:   m.EmissionID,
		OriginalCost: types.New(m.OriginalCost, m.Currency),
		AdjustedCost: types.New(m.AdjustedCost, m.Currency),
		SalePrice:    types.New(m.SalePrice, m.Currency),
		Reason:       m.Reason,
		PerformedBy:  m.PerformedBy,
		CreatedAt:    m.CreatedAt.UTC(),
	}, nil
}
