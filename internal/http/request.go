package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"kasse/internal/core"
)

const maxBodyBytes = 64 << 10

type createFundRequest struct {
	Name     string `json:"name" validate:"required,max=50"`
	ID       string `json:"id" validate:"required,numeric,min=4,max=8"`
	Nickname string `json:"nickname" validate:"required,max=50"`
}

type joinFundRequest struct {
	Nickname string `json:"nickname" validate:"required,max=50"`
}

type moneyRequest struct {
	Nickname string      `json:"nickname" validate:"required,max=50"`
	Amount   amountInput `json:"amount" validate:"required"`
}

// amountInput accepts "12,50", "12.50" and 12.5 alike; parsing happens in core.
type amountInput string

func (a *amountInput) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = amountInput(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a string or a number")
	}
	// 1e2 is a valid JSON number but not a valid amount string
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return fmt.Errorf("amount %s: %w", n, err)
	}
	*a = amountInput(d.String())
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report JSON names in errors
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. Failures come back as
// *core.ValidationError so they map to 422 like ledger validation.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &core.ValidationError{Field: "body", Reason: err.Error()}
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &core.ValidationError{Field: fe.Field(), Reason: describe(fe)}
		}
		return &core.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "numeric":
		return "must contain only digits"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
