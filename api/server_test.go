package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/xraph/credit"
	"github.com/xraph/credit/api"
	"github.com/xraph/credit/label"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/store/memory"
	"github.com/xraph/credit/types"
)

const secret = "test-secret"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type apiError struct {
	Error struct {
		Code      string `json:"code"`
		Field     string `json:"field"`
		Shortfall *money `json:"shortfall"`
		Refunded  *bool  `json:"refunded"`
	} `json:"error"`
}

type harness struct {
	ledger  *credit.Ledger
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := credit.New(memory.New(),
		credit.WithLogger(discard),
		credit.WithDefaults(settings.System{
			DefaultInitialCredits:   types.USD(10000),
			DefaultMarkupPercentage: decimal.NewFromInt(15),
			LowBalanceThreshold:     types.USD(2000),
		}),
	)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// acme-post quotes 40.00 for every shipment.
	carrier := label.CarrierFuncs{
		QuoteFunc: func(context.Context, label.CarrierRequest) (types.Money, error) {
			return types.USD(4000), nil
		},
		LabelFunc: func(_ context.Context, req label.CarrierRequest) (*label.Label, error) {
			if fail, _ := req.Shipment["fail"].(bool); fail {
				return nil, errors.New("carrier unavailable")
			}
			return &label.Label{TrackingNumber: "TRK-" + req.EmissionID}, nil
		},
	}
	wf := label.NewWorkflow(l, label.WithLogger(discard), label.WithCarrier("acme-post", carrier))

	auth, err := api.NewAuthenticator(secret, "", "admin")
	if err != nil {
		t.Fatalf("NewAuthenticator() error: %v", err)
	}
	srv := api.NewServer(l, wf, auth,
		api.WithLogger(discard),
		api.WithMetrics(prometheus.NewRegistry()),
	)
	return &harness{ledger: l, handler: srv.Handler()}
}

func token(t *testing.T, subject, role string, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, api.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString() error: %v", err)
	}
	return s
}

func (h *harness) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Unmarshal(%s) error: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, want, rec.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if rec.Header().Get(api.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}

	rec = h.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !bytes.Contains(rec.Body.Bytes(), []byte("credit_http_request_duration_seconds")) {
		t.Error("metrics output lacks request latency histogram")
	}
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t)

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "acme",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("SignedString() error: %v", err)
	}

	tests := []struct {
		name   string
		path   string
		token  string
		status int
		code   string
	}{
		{"missing token", "/v1/me/balance", "", http.StatusUnauthorized, "unauthorized"},
		{"wrong key", "/v1/me/balance", wrongKey, http.StatusUnauthorized, "unauthorized"},
		{"expired", "/v1/me/balance", token(t, "acme", "", -time.Minute), http.StatusUnauthorized, "unauthorized"},
		{"no subject", "/v1/me/balance", token(t, "", "", time.Hour), http.StatusUnauthorized, "unauthorized"},
		{"client on admin route", "/v1/admin/clients", token(t, "acme", "", time.Hour), http.StatusForbidden, "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodGet, tt.path, tt.token, nil)
			expectStatus(t, rec, tt.status)
			if got := decodeAs[apiError](t, rec).Error.Code; got != tt.code {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestClientLabelFlow(t *testing.T) {
	h := newHarness(t)
	tok := token(t, "acme", "", time.Hour)

	rec := h.do(t, http.MethodGet, "/v1/me/balance", tok, nil)
	expectStatus(t, rec, http.StatusOK)
	status := decodeAs[struct {
		Balance money `json:"balance"`
		Low     bool  `json:"low"`
	}](t, rec)
	if status.Balance.Amount != 10000 || status.Low {
		t.Fatalf("balance = %+v, low = %v", status.Balance, status.Low)
	}

	rec = h.do(t, http.MethodPost, "/v1/me/quotes", tok, map[string]string{"carrier": "acme-post"})
	expectStatus(t, rec, http.StatusOK)
	if q := decodeAs[struct {
		SaleAmount money `json:"sale_amount"`
	}](t, rec); q.SaleAmount.Amount != 4600 {
		t.Fatalf("sale amount = %d, want 4600", q.SaleAmount.Amount)
	}

	type labelResult struct {
		EmissionID  string `json:"emission_id"`
		Transaction struct {
			Amount     money `json:"amount"`
			NewBalance money `json:"new_balance"`
		} `json:"transaction"`
		Label struct {
			TrackingNumber string `json:"tracking_number"`
		} `json:"label"`
		LowBalance bool `json:"low_balance"`
	}
	emit := func(emissionID string) *httptest.ResponseRecorder {
		return h.do(t, http.MethodPost, "/v1/me/labels", tok, map[string]any{
			"emission_id": emissionID,
			"carrier":     "acme-post",
		})
	}

	rec = emit("E1")
	expectStatus(t, rec, http.StatusCreated)
	res := decodeAs[labelResult](t, rec)
	if res.Transaction.Amount.Amount != 4600 || res.Transaction.NewBalance.Amount != 5400 {
		t.Fatalf("transaction = %+v", res.Transaction)
	}
	if res.Label.TrackingNumber != "TRK-E1" {
		t.Errorf("tracking number = %q", res.Label.TrackingNumber)
	}

	// Same emission id is not charged twice.
	rec = emit("E1")
	expectStatus(t, rec, http.StatusCreated)
	if res := decodeAs[labelResult](t, rec); res.Transaction.NewBalance.Amount != 5400 {
		t.Fatalf("repeat emission new balance = %d, want 5400", res.Transaction.NewBalance.Amount)
	}

	rec = emit("E2")
	expectStatus(t, rec, http.StatusCreated)
	if res := decodeAs[labelResult](t, rec); !res.LowBalance || res.Transaction.NewBalance.Amount != 800 {
		t.Fatalf("second label = %+v", res)
	}

	rec = emit("E3")
	expectStatus(t, rec, http.StatusPaymentRequired)
	body := decodeAs[apiError](t, rec)
	if body.Error.Code != "insufficient_funds" || body.Error.Shortfall == nil || body.Error.Shortfall.Amount != 3800 {
		t.Fatalf("error = %+v", body.Error)
	}

	rec = h.do(t, http.MethodGet, "/v1/me/transactions?type=consume&order=asc", tok, nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decodeAs[struct {
		Items []struct {
			EmissionID string `json:"emission_id"`
		} `json:"items"`
	}](t, rec); len(list.Items) != 2 || list.Items[0].EmissionID != "E1" {
		t.Fatalf("transactions = %+v", list.Items)
	}
}

func TestClientCannotSetChargedAmount(t *testing.T) {
	h := newHarness(t)
	tok := token(t, "acme", "", time.Hour)

	rec := h.do(t, http.MethodPost, "/v1/me/labels", tok, map[string]any{
		"emission_id":  "E-cheap",
		"carrier":      "acme-post",
		"carrier_cost": "0.01",
	})
	expectStatus(t, rec, http.StatusBadRequest)

	state, err := h.ledger.EmissionState(context.Background(), "acme", "E-cheap")
	if err != nil {
		t.Fatalf("EmissionState() error: %v", err)
	}
	if state != credit.EmissionNone {
		t.Fatalf("state = %s, want NONE", state)
	}

	// The shipment is passed through to the carrier but never prices it.
	rec = h.do(t, http.MethodPost, "/v1/me/labels", tok, map[string]any{
		"emission_id": "E-cheap",
		"carrier":     "acme-post",
		"shipment":    map[string]any{"carrier_cost": "0.01", "sale_amount": "0.01"},
	})
	expectStatus(t, rec, http.StatusCreated)

	b, err := h.ledger.GetBalance(context.Background(), "acme")
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if b.Amount != 5400 {
		t.Errorf("balance = %d, want 5400 (40.00 quoted + 15%%)", b.Amount)
	}
}

func TestCarrierFailureRefunds(t *testing.T) {
	h := newHarness(t)
	tok := token(t, "acme", "", time.Hour)
	body := map[string]any{
		"emission_id": "E1",
		"carrier":     "acme-post",
		"shipment":    map[string]any{"fail": true},
	}

	rec := h.do(t, http.MethodPost, "/v1/me/labels", tok, body)
	expectStatus(t, rec, http.StatusBadGateway)
	e := decodeAs[apiError](t, rec)
	if e.Error.Code != "carrier_failed" || e.Error.Refunded == nil || !*e.Error.Refunded {
		t.Fatalf("error = %+v", e.Error)
	}

	b, err := h.ledger.GetBalance(context.Background(), "acme")
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if b.Amount != 10000 {
		t.Errorf("balance = %d, want 10000", b.Amount)
	}

	delete(body, "shipment")
	rec = h.do(t, http.MethodPost, "/v1/me/labels", tok, body)
	expectStatus(t, rec, http.StatusConflict)
	if code := decodeAs[apiError](t, rec).Error.Code; code != "emission_closed" {
		t.Errorf("code = %q, want emission_closed", code)
	}
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t)
	admin := token(t, "ops", "admin", time.Hour)
	ctx := context.Background()

	rec := h.do(t, http.MethodPost, "/v1/admin/clients", admin, map[string]string{
		"client_id":    "acme",
		"display_name": "Acme Ltd",
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = h.do(t, http.MethodPost, "/v1/admin/clients/acme/credits", admin, map[string]string{
		"amount":      "50.00",
		"description": "top-up",
	})
	expectStatus(t, rec, http.StatusCreated)
	credited := decodeAs[struct {
		ID          string `json:"id"`
		PerformedBy string `json:"performed_by"`
		NewBalance  money  `json:"new_balance"`
	}](t, rec)
	if credited.NewBalance.Amount != 15000 || credited.PerformedBy != "ops" {
		t.Fatalf("credit = %+v", credited)
	}

	rec = h.do(t, http.MethodPost, "/v1/admin/clients/acme/debits", admin, map[string]string{"amount": "500.00"})
	expectStatus(t, rec, http.StatusPaymentRequired)

	rec = h.do(t, http.MethodGet, "/v1/admin/transactions/"+credited.ID, admin, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = h.do(t, http.MethodGet, "/v1/admin/transactions/not-an-id", admin, nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = h.do(t, http.MethodGet, "/v1/admin/clients/acme", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	client := decodeAs[struct {
		Account struct {
			DisplayName string `json:"display_name"`
		} `json:"account"`
		Status struct {
			Balance money `json:"balance"`
		} `json:"status"`
	}](t, rec)
	if client.Account.DisplayName != "Acme Ltd" || client.Status.Balance.Amount != 15000 {
		t.Fatalf("client = %+v", client)
	}

	rec = h.do(t, http.MethodGet, "/v1/admin/clients/globex", admin, nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = h.do(t, http.MethodGet, "/v1/admin/clients?search=acm", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decodeAs[struct {
		Items []json.RawMessage `json:"items"`
	}](t, rec); len(list.Items) != 1 {
		t.Fatalf("clients = %d, want 1", len(list.Items))
	}

	rec = h.do(t, http.MethodGet, "/v1/admin/clients/acme/reconcile", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if report := decodeAs[struct {
		Consistent bool `json:"consistent"`
	}](t, rec); !report.Consistent {
		t.Error("reconcile reported inconsistency")
	}

	rec = h.do(t, http.MethodPut, "/v1/admin/clients/acme/pricing", admin, map[string]any{
		"markup_percentage": "10",
		"enabled_carriers":  []string{"ACME-Post"},
	})
	expectStatus(t, rec, http.StatusOK)
	q, err := h.ledger.Price(ctx, "acme", types.USD(10000))
	if err != nil {
		t.Fatalf("Price() error: %v", err)
	}
	if q.SaleAmount.Amount != 11000 {
		t.Errorf("sale amount = %d, want 11000", q.SaleAmount.Amount)
	}

	rec = h.do(t, http.MethodPut, "/v1/admin/settings", admin, map[string]string{
		"default_initial_credits":   "25.00",
		"default_markup_percentage": "20",
		"low_balance_threshold":     "5.00",
	})
	expectStatus(t, rec, http.StatusOK)
	sys, err := h.ledger.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings() error: %v", err)
	}
	if sys.DefaultInitialCredits.Amount != 2500 || sys.UpdatedBy != "ops" {
		t.Errorf("settings = %+v", sys)
	}

	if _, err := h.ledger.ConsumeForEmission(ctx, "acme", "E9", types.USD(1000), "label"); err != nil {
		t.Fatalf("ConsumeForEmission() error: %v", err)
	}
	rec = h.do(t, http.MethodPost, "/v1/admin/adjustments", admin, map[string]string{
		"client_id":     "acme",
		"emission_id":   "E9",
		"original_cost": "8.70",
		"adjusted_cost": "9.10",
		"sale_price":    "10.00",
		"reason":        "carrier surcharge",
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = h.do(t, http.MethodGet, "/v1/admin/adjustments?client_id=acme", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decodeAs[struct {
		Items []json.RawMessage `json:"items"`
	}](t, rec); len(list.Items) != 1 {
		t.Fatalf("adjustments = %d, want 1", len(list.Items))
	}
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	tok := token(t, "acme", "", time.Hour)

	tests := []struct {
		name  string
		path  string
		body  any
		field string
	}{
		{"empty body", "/v1/me/quotes", nil, "body"},
		{"malformed", "/v1/me/quotes", "{", "body"},
		{"unknown field", "/v1/me/quotes", map[string]string{"cost": "1.00"}, "body"},
		{"missing carrier", "/v1/me/quotes", map[string]string{}, "carrier"},
		{"unknown carrier", "/v1/me/labels", map[string]string{"carrier": "nope"}, "carrier"},
		{"cost on label", "/v1/me/labels", map[string]string{"carrier": "acme-post", "carrier_cost": "0.01"}, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, tt.path, tok, tt.body)
			expectStatus(t, rec, http.StatusBadRequest)
			if got := decodeAs[apiError](t, rec).Error.Field; got != tt.field {
				t.Errorf("field = %q, want %q", got, tt.field)
			}
		})
	}

	rec := h.do(t, http.MethodGet, "/v1/me/transactions?limit=0", tok, nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = h.do(t, http.MethodGet, "/v1/me/transactions?type=bogus", tok, nil)
	expectStatus(t, rec, http.StatusBadRequest)
}
