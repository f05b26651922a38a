package api

import (
	"net/http"
	"strings"

	"github.com/xraph/credit"
	"github.com/xraph/credit/label"
	"github.com/xraph/credit/transaction"
)

// caller provisions the authenticated client on first contact.
func (s *Server) caller(r *http.Request) (Identity, error) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		return Identity{}, credit.ErrUnauthorized
	}
	if _, err := s.ledger.EnsureProvisioned(r.Context(), id.ClientID, id.Name); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (s *Server) handleMyBalance(w http.ResponseWriter, r *http.Request) {
	id, err := s.caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := s.ledger.BalanceStatus(r.Context(), id.ClientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleMyTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := s.caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.listTransactions(w, r, id.ClientID)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request, clientID string) {
	p, err := parsePage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	txs, err := s.ledger.ListTransactions(r.Context(), clientID, transaction.ListOpts{
		Type:      transaction.Type(strings.ToUpper(q.Get("type"))),
		Ascending: q.Get("order") == "asc",
		Limit:     p.limit,
		Offset:    p.offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(txs, p))
}

type quoteRequest struct {
	Carrier  string         `json:"carrier"`
	Shipment map[string]any `json:"shipment"`
}

// handleMyQuote prices a shipment from the carrier's quote. The client
// never supplies the cost.
func (s *Server) handleMyQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, credit.ErrUnauthorized)
		return
	}
	var req quoteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	quote, err := s.workflow.Quote(r.Context(), label.Request{
		ClientID: id.ClientID,
		Carrier:  req.Carrier,
		Shipment: req.Shipment,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type labelRequest struct {
	EmissionID string         `json:"emission_id"`
	Carrier    string         `json:"carrier"`
	Shipment   map[string]any `json:"shipment"`
}

func (s *Server) handleMyLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, credit.ErrUnauthorized)
		return
	}
	var req labelRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.workflow.Emit(r.Context(), label.Request{
		ClientID:    id.ClientID,
		DisplayName: id.Name,
		EmissionID:  req.EmissionID,
		Carrier:     req.Carrier,
		Shipment:    req.Shipment,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
