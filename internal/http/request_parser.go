package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"finman/internal/core"
)

const maxBodyBytes = 64 << 10

// recordRequest is the body of add and update calls. Amount may be a JSON
// number or a string such as "12,50".
type recordRequest struct {
	Description *string         `json:"description"`
	Amount      json.RawMessage `json:"amount"`
	Category    *string         `json:"category"`
	Date        *string         `json:"date"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: empty body", core.ErrValidation)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", core.ErrValidation, err)
	}
	return nil
}

// parseAmount returns nil when the field was omitted or null.
func parseAmount(raw json.RawMessage) (*decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%w: amount: %v", core.ErrValidation, err)
		}
	}
	d, err := core.ParseAmount(text)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// toRecord builds a new record; the amount is required.
func (req recordRequest) toRecord() (core.Record, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return core.Record{}, err
	}
	if amount == nil {
		return core.Record{}, fmt.Errorf("%w: amount is required", core.ErrValidation)
	}
	rec := core.Record{Amount: *amount}
	if req.Description != nil {
		rec.Description = *req.Description
	}
	if req.Category != nil {
		rec.Category = *req.Category
	}
	if req.Date != nil && strings.TrimSpace(*req.Date) != "" {
		ts, err := core.ParseTimestamp(*req.Date)
		if err != nil {
			return core.Record{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
		}
		rec.Timestamp = ts
	}
	return rec, nil
}

func (req recordRequest) toPatch() (core.RecordPatch, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return core.RecordPatch{}, err
	}
	patch := core.RecordPatch{
		Description: req.Description,
		Amount:      amount,
		Category:    req.Category,
	}
	if req.Date != nil && strings.TrimSpace(*req.Date) != "" {
		ts, err := core.ParseTimestamp(*req.Date)
		if err != nil {
			return core.RecordPatch{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
		}
		patch.Timestamp = &ts
	}
	return patch, nil
}

func parseIndex(r *http.Request) (int, error) {
	raw := r.PathValue("index")
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid index %q", core.ErrValidation, raw)
	}
	return idx, nil
}
