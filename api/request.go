package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/xraph/credit"
	"github.com/xraph/credit/types"
)

const (
	maxBodyBytes = 1 << 20
	defaultLimit = 50
	maxLimit     = 500
)

// decode reads a JSON body into dst, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return credit.ValidationError{Field: "body", Message: "is required"}
		}
		return credit.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

type page struct {
	limit  int
	offset int
}

func parsePage(r *http.Request) (page, error) {
	p := page{limit: defaultLimit}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxLimit {
			return page{}, credit.ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxLimit)}
		}
		p.limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page{}, credit.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
		}
		p.offset = n
	}
	return p, nil
}

// money parses a major-unit amount in the ledger currency.
func (s *Server) money(field, v string) (types.Money, error) {
	if v == "" {
		return types.Money{}, credit.ValidationError{Field: field, Message: "is required"}
	}
	m, err := types.Parse(v, s.ledger.Currency())
	if err != nil {
		return types.Money{}, credit.ValidationError{Field: field, Message: err.Error()}
	}
	return m, nil
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func list[T any](items []T, p page) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Limit: p.limit, Offset: p.offset}
}
