package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xraph/credit"
	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/id"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

func actor(r *http.Request) string {
	if who, ok := IdentityFrom(r.Context()); ok {
		return who.ClientID
	}
	return credit.SystemActor
}

// ──────────────────────────────────────────────────
// Clients
// ──────────────────────────────────────────────────

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	accounts, err := s.ledger.ListAccounts(r.Context(), account.ListOpts{
		Search: r.URL.Query().Get("search"),
		Limit:  p.limit,
		Offset: p.offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(accounts, p))
}

type provisionRequest struct {
	ClientID    string `json:"client_id"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleProvisionClient(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.ledger.EnsureProvisioned(r.Context(), req.ClientID, req.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

type clientResponse struct {
	Account *account.Account      `json:"account"`
	Status  *credit.BalanceStatus `json:"status"`
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	a, err := s.ledger.GetAccount(r.Context(), clientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := s.ledger.BalanceStatus(r.Context(), clientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clientResponse{Account: a, Status: status})
}

type renameRequest struct {
	DisplayName string `json:"display_name"`
}

func (s *Server) handleRenameClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	var req renameRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.RenameAccount(r.Context(), clientID, req.DisplayName); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.ledger.GetAccount(r.Context(), clientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type adjustBalanceRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	s.adjustBalance(w, r, s.ledger.Credit)
}

func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	s.adjustBalance(w, r, s.ledger.Debit)
}

func (s *Server) adjustBalance(w http.ResponseWriter, r *http.Request,
	apply func(ctx context.Context, clientID string, amount types.Money, description, performedBy string) (*transaction.Transaction, error),
) {
	var req adjustBalanceRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := s.money("amount", req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := apply(r.Context(), chi.URLParam(r, "clientID"), amount, req.Description, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleClientTransactions(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if _, err := s.ledger.GetAccount(r.Context(), clientID); err != nil {
		writeError(w, r, err)
		return
	}
	s.listTransactions(w, r, clientID)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.Reconcile(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := id.ParseTransactionID(chi.URLParam(r, "transactionID"))
	if err != nil {
		writeError(w, r, credit.ValidationError{Field: "transaction_id", Message: err.Error()})
		return
	}
	tx, err := s.ledger.GetTransaction(r.Context(), txID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ──────────────────────────────────────────────────
// Pricing and settings
// ──────────────────────────────────────────────────

type pricingRequest struct {
	MarkupPercentage *string  `json:"markup_percentage"`
	EnabledCarriers  []string `json:"enabled_carriers"`
}

func (s *Server) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	cp, err := s.ledger.ClientPricing(r.Context(), clientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cp == nil {
		cp = &settings.ClientPricing{ClientID: clientID, EnabledCarriers: []string{}}
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handlePutPricing(w http.ResponseWriter, r *http.Request) {
	var req pricingRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cp := &settings.ClientPricing{
		ClientID:        chi.URLParam(r, "clientID"),
		EnabledCarriers: req.EnabledCarriers,
	}
	if req.MarkupPercentage != nil {
		markup, err := decimal.NewFromString(strings.TrimSpace(*req.MarkupPercentage))
		if err != nil {
			writeError(w, r, credit.ValidationError{Field: "markup_percentage", Message: err.Error()})
			return
		}
		cp.MarkupPercentage = &markup
	}
	if err := s.ledger.SetClientPricing(r.Context(), cp); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

type priceRequest struct {
	CarrierCost string `json:"carrier_cost"`
}

// handlePrice previews the sale amount of an arbitrary carrier cost for a
// client. Nothing is charged.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cost, err := s.money("carrier_cost", req.CarrierCost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	quote, err := s.ledger.Price(r.Context(), chi.URLParam(r, "clientID"), cost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type settingsRequest struct {
	DefaultInitialCredits   string `json:"default_initial_credits"`
	DefaultMarkupPercentage string `json:"default_markup_percentage"`
	LowBalanceThreshold     string `json:"low_balance_threshold"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	sys, err := s.ledger.Settings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sys)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	initial, err := s.money("default_initial_credits", req.DefaultInitialCredits)
	if err != nil {
		writeError(w, r, err)
		return
	}
	threshold, err := s.money("low_balance_threshold", req.LowBalanceThreshold)
	if err != nil {
		writeError(w, r, err)
		return
	}
	markup, err := decimal.NewFromString(req.DefaultMarkupPercentage)
	if err != nil {
		writeError(w, r, credit.ValidationError{Field: "default_markup_percentage", Message: err.Error()})
		return
	}

	sys, err := s.ledger.UpdateSettings(r.Context(), settings.System{
		DefaultInitialCredits:   initial,
		DefaultMarkupPercentage: markup,
		LowBalanceThreshold:     threshold,
	}, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sys)
}

// ──────────────────────────────────────────────────
// Adjustments
// ──────────────────────────────────────────────────

type adjustmentRequest struct {
	ClientID     string `json:"client_id"`
	EmissionID   string `json:"emission_id"`
	OriginalCost string `json:"original_cost"`
	AdjustedCost string `json:"adjusted_cost"`
	SalePrice    string `json:"sale_price"`
	Reason       string `json:"reason"`
}

func (s *Server) handleRecordAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	adj := &adjustment.Adjustment{
		ClientID:    req.ClientID,
		EmissionID:  req.EmissionID,
		Reason:      req.Reason,
		PerformedBy: actor(r),
	}
	var err error
	if adj.OriginalCost, err = s.money("original_cost", req.OriginalCost); err != nil {
		writeError(w, r, err)
		return
	}
	if adj.AdjustedCost, err = s.money("adjusted_cost", req.AdjustedCost); err != nil {
		writeError(w, r, err)
		return
	}
	if adj.SalePrice, err = s.money("sale_price", req.SalePrice); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.ledger.RecordAdjustment(r.Context(), adj); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, adj)
}

func (s *Server) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	adjs, err := s.ledger.ListAdjustments(r.Context(), adjustment.ListOpts{
		ClientID:   q.Get("client_id"),
		EmissionID: q.Get("emission_id"),
		Limit:      p.limit,
		Offset:     p.offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(adjs, p))
}
