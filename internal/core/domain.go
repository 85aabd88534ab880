package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	Deposit  TransactionType = "deposit"
	Withdraw TransactionType = "withdraw"
)

const maxNameLength = 50

type (
	TransactionType string

	// Timestamp is a point in time persisted as Unix milliseconds.
	Timestamp struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Transaction struct {
		Type      TransactionType `json:"type"`
		Amount    Money           `json:"amount"`
		User      string          `json:"user"`
		Timestamp Timestamp       `json:"timestamp"`
	}

	Fund struct {
		Name         string        `json:"name"`
		Balance      Money         `json:"balance"`
		Transactions []Transaction `json:"transactions"`
		Members      []string      `json:"members"`
		Created      Timestamp     `json:"created"`
	}

	// Database is the single persisted document holding every fund.
	Database struct {
		Funds map[string]*Fund `json:"funds"`
	}

	// Session identifies who is acting on which fund. It is never persisted;
	// the zero value is the anonymous session.
	Session struct {
		Nickname string
		FundID   string
	}
)

var (
	ErrDuplicateID       = errors.New("fund id already exists")
	ErrNotFound          = errors.New("fund not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceMismatch   = errors.New("balance does not match transaction history")
)

// ValidationError reports bad caller input for a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NewTimestamp truncates t to millisecond precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: time.UnixMilli(t.UnixMilli())}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, t.UnixMilli(), 10), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("parse timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}

// NewDatabase returns an empty database.
func NewDatabase() *Database {
	return &Database{Funds: make(map[string]*Fund)}
}

// NewFund returns a fund with zero balance and a single member.
func NewFund(name, firstMember string, created time.Time) *Fund {
	return &Fund{
		Name:         name,
		Transactions: []Transaction{},
		Members:      []string{firstMember},
		Created:      NewTimestamp(created),
	}
}

func (s Session) IsAnonymous() bool {
	return s.FundID == ""
}

func (t TransactionType) IsValid() bool {
	return t == Deposit || t == Withdraw
}

// Signed returns the transaction amount with the sign it contributes to the balance.
func (t Transaction) Signed() Money {
	if t.Type == Withdraw {
		return Money{Cents: -t.Amount.Cents}
	}
	return t.Amount
}

func (t Transaction) Validate() error {
	if !t.Type.IsValid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown transaction type %q", t.Type)}
	}
	return t.Amount.Validate()
}

// HasMember reports whether nickname already belongs to the fund.
func (f *Fund) HasMember(nickname string) bool {
	for _, m := range f.Members {
		if m == nickname {
			return true
		}
	}
	return false
}

// AddMember appends nickname unless it is already present. It reports whether
// the member list changed.
func (f *Fund) AddMember(nickname string) bool {
	if f.HasMember(nickname) {
		return false
	}
	f.Members = append(f.Members, nickname)
	return true
}

// Apply appends tx and adjusts the balance. Withdrawals larger than the current
// balance are rejected and leave the fund untouched.
func (f *Fund) Apply(tx Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if tx.Type == Withdraw && tx.Amount.Cents > f.Balance.Cents {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientFunds, tx.Amount, f.Balance)
	}
	if tx.Type == Deposit && f.Balance.Cents > math.MaxInt64-tx.Amount.Cents {
		return &ValidationError{Field: "amount", Reason: "balance would overflow"}
	}
	f.Balance = f.Balance.Add(tx.Signed())
	f.Transactions = append(f.Transactions, tx)
	return nil
}

// LedgerBalance sums the signed transaction amounts in insertion order.
func (f *Fund) LedgerBalance() Money {
	var sum Money
	for _, tx := range f.Transactions {
		sum = sum.Add(tx.Signed())
	}
	return sum
}

// VerifyBalance checks the stored balance against the transaction history.
func (f *Fund) VerifyBalance() error {
	if got := f.LedgerBalance(); got != f.Balance {
		return fmt.Errorf("%w: stored %s, history %s", ErrBalanceMismatch, f.Balance, got)
	}
	return nil
}

// History returns the transactions newest first.
func (f *Fund) History() []Transaction {
	out := make([]Transaction, len(f.Transactions))
	for i, tx := range f.Transactions {
		out[len(out)-1-i] = tx
	}
	return out
}

// Clone returns a deep copy so callers can't mutate a stored snapshot.
func (f *Fund) Clone() *Fund {
	cp := *f
	cp.Transactions = make([]Transaction, len(f.Transactions))
	copy(cp.Transactions, f.Transactions)
	cp.Members = make([]string, len(f.Members))
	copy(cp.Members, f.Members)
	return &cp
}

// Clone returns a deep copy of every fund.
func (db *Database) Clone() *Database {
	cp := &Database{Funds: make(map[string]*Fund, len(db.Funds))}
	for id, f := range db.Funds {
		cp.Funds[id] = f.Clone()
	}
	return cp
}

// ValidateFundID accepts 4 to 8 ASCII digits.
func ValidateFundID(id string) error {
	if len(id) < 4 || len(id) > 8 {
		return &ValidationError{Field: "fund id", Reason: "must contain 4-8 digits"}
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return &ValidationError{Field: "fund id", Reason: "must contain 4-8 digits"}
		}
	}
	return nil
}

func ValidateNickname(s string) error {
	return validateName("nickname", s)
}

func ValidateFundName(s string) error {
	return validateName("fund name", s)
}

func validateName(field, s string) error {
	if strings.TrimSpace(s) == "" {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	if s != strings.TrimSpace(s) {
		return &ValidationError{Field: field, Reason: "must not start or end with whitespace"}
	}
	if utf8.RuneCountInString(s) > maxNameLength {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("too long (max %d characters)", maxNameLength)}
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return &ValidationError{Field: field, Reason: "must not contain control characters"}
		}
	}
	return nil
}

// ErrorKind classifies err into a short label for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "validation"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "internal"
	}
}
