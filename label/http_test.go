package label_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/credit/label"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /quotes", func(w http.ResponseWriter, r *http.Request) {
		var req label.CarrierRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Shipment["to"] {
		case nil:
			http.Error(w, "destination required", http.StatusUnprocessableEntity)
		case "nowhere":
			_, _ = w.Write([]byte(`{"currency":"usd"}`))
		case "refund-me":
			_, _ = w.Write([]byte(`{"cost":"-1.00","currency":"usd"}`))
		default:
			_, _ = w.Write([]byte(`{"cost":"40.00","currency":"usd"}`))
		}
	})
	mux.HandleFunc("POST /labels", func(w http.ResponseWriter, r *http.Request) {
		var req label.CarrierRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch {
		case r.Header.Get("Idempotency-Key") != req.EmissionID:
			http.Error(w, "idempotency key mismatch", http.StatusBadRequest)
		case req.Shipment["weight"] == nil:
			http.Error(w, "weight required", http.StatusUnprocessableEntity)
		case req.EmissionID == "empty":
			_, _ = w.Write([]byte(`{}`))
		default:
			_ = json.NewEncoder(w).Encode(label.Label{TrackingNumber: "TRK-" + req.EmissionID, URL: "https://labels.example/" + req.EmissionID})
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPCarrierQuote(t *testing.T) {
	carrier := label.NewHTTPCarrier(newGateway(t).URL+"/", time.Second)
	ctx := context.Background()

	tests := []struct {
		name    string
		to      any
		wantErr bool
		cost    int64
	}{
		{name: "ok", to: "Porto Alegre", cost: 4000},
		{name: "rejected", to: nil, wantErr: true},
		{name: "no cost", to: "nowhere", wantErr: true},
		{name: "negative cost", to: "refund-me", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := label.CarrierRequest{ClientID: "acme", Shipment: map[string]any{}}
			if tt.to != nil {
				req.Shipment["to"] = tt.to
			}
			cost, err := carrier.Quote(ctx, req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Quote() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (cost.Amount != tt.cost || cost.Currency != "usd") {
				t.Errorf("Quote() = %+v, want %d usd", cost, tt.cost)
			}
		})
	}
}

func TestHTTPCarrierCreateLabel(t *testing.T) {
	carrier := label.NewHTTPCarrier(newGateway(t).URL, time.Second)
	ctx := context.Background()

	tests := []struct {
		name     string
		req      label.CarrierRequest
		wantErr  bool
		tracking string
	}{
		{
			name:     "ok",
			req:      label.CarrierRequest{ClientID: "acme", EmissionID: "E1", Shipment: map[string]any{"weight": 1.5}},
			tracking: "TRK-E1",
		},
		{
			name:    "rejected",
			req:     label.CarrierRequest{ClientID: "acme", EmissionID: "E2"},
			wantErr: true,
		},
		{
			name:    "no tracking number",
			req:     label.CarrierRequest{ClientID: "acme", EmissionID: "empty", Shipment: map[string]any{"weight": 1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lbl, err := carrier.CreateLabel(ctx, tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateLabel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && lbl.TrackingNumber != tt.tracking {
				t.Errorf("TrackingNumber = %q, want %q", lbl.TrackingNumber, tt.tracking)
			}
		})
	}
}
