package label

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/credit/types"
)

// HTTPCarrier talks JSON to a carrier gateway. The CarrierRequest is
// posted to <url>/quotes for a price and to <url>/labels for the label.
// The emission id is sent as the Idempotency-Key header.
type HTTPCarrier struct {
	url    string
	client *http.Client
}

// NewHTTPCarrier returns a carrier calling the gateway at url with the
// given timeout.
func NewHTTPCarrier(url string, timeout time.Duration) *HTTPCarrier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCarrier{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type quoteResponse struct {
	Cost     string `json:"cost"`
	Currency string `json:"currency"`
}

// Quote implements Carrier. The gateway answers with a decimal cost and
// its currency, e.g. {"cost": "40.00", "currency": "usd"}.
func (c *HTTPCarrier) Quote(ctx context.Context, req CarrierRequest) (types.Money, error) {
	var q quoteResponse
	if err := c.post(ctx, "/quotes", req, &q); err != nil {
		return types.Money{}, err
	}
	if q.Cost == "" || q.Currency == "" {
		return types.Money{}, errors.New("label: carrier quote has no cost or currency")
	}
	cost, err := types.Parse(q.Cost, q.Currency)
	if err != nil {
		return types.Money{}, fmt.Errorf("label: carrier quote: %w", err)
	}
	if cost.IsNegative() {
		return types.Money{}, fmt.Errorf("label: carrier quoted a negative cost %s", cost)
	}
	return cost, nil
}

// CreateLabel implements Carrier.
func (c *HTTPCarrier) CreateLabel(ctx context.Context, req CarrierRequest) (*Label, error) {
	var lbl Label
	if err := c.post(ctx, "/labels", req, &lbl); err != nil {
		return nil, err
	}
	if lbl.TrackingNumber == "" {
		return nil, errors.New("label: carrier response has no tracking number")
	}
	return &lbl, nil
}

func (c *HTTPCarrier) post(ctx context.Context, path string, req CarrierRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("label: encode carrier request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("label: build carrier request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.EmissionID != "" {
		httpReq.Header.Set("Idempotency-Key", req.EmissionID)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("label: call carrier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10)) //nolint:errcheck // best-effort detail
		return fmt.Errorf("label: carrier responded %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("label: decode carrier response: %w", err)
	}
	return nil
}
