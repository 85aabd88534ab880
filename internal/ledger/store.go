// Package ledger reads and writes the single shared document holding every
// fund. Each mutation loads a fresh snapshot, applies one change and writes the
// whole document back. Writers in other processes are not locked out; the last
// write wins.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kasse/internal/cache"
	"kasse/internal/core"
	"kasse/internal/log"
	"kasse/internal/metrics"
	"kasse/internal/notify"
	"kasse/internal/storage"
)

// DefaultKey is the slot key the document is stored under.
const DefaultKey = "urlaubskasse_db"

const (
	decodeCacheSize = 4
	decodeCacheTTL  = time.Minute
)

type Store struct {
	slot     storage.Slot
	key      string
	notifier notify.Notifier
	now      func() time.Time
	logger   *log.Logger

	// decoded documents by content hash; entries are never handed out directly
	decoded *cache.LRU[*core.Database]
}

type Option func(*Store)

// WithKey overrides DefaultKey.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithClock replaces time.Now for transaction and fund timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l.WithComponent(log.ComponentLedger) }
}

// New returns a Store on slot. notifier may be nil, in which case other
// readers only see changes on their next poll.
func New(slot storage.Slot, notifier notify.Notifier, opts ...Option) *Store {
	s := &Store{
		slot:     slot,
		key:      DefaultKey,
		notifier: notifier,
		now:      time.Now,
		logger:   log.Default(log.ComponentLedger),
		decoded:  cache.NewLRU[*core.Database](decodeCacheSize, decodeCacheTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the current document. An empty slot yields an empty database.
// So does an unreadable one: it is logged and will be overwritten by the next
// save. The slot is read on every call; only decoding is skipped when the
// stored bytes did not change.
func (s *Store) Load(ctx context.Context) (*core.Database, error) {
	raw, err := s.slot.Get(ctx, s.key)
	if errors.Is(err, storage.ErrSlotEmpty) {
		return core.NewDatabase(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:])
	if db, ok := s.decoded.Get(digest); ok {
		metrics.LedgerDecodeCacheHits.Inc()
		return db.Clone(), nil
	}

	var db core.Database
	if err := json.Unmarshal(raw, &db); err != nil {
		metrics.LedgerResets.Inc()
		s.logger.WarnContext(ctx, "Ledger document is unreadable, starting from an empty ledger",
			log.FieldStorageKey, s.key,
			log.FieldError, err)
		return core.NewDatabase(), nil
	}
	normalize(&db)
	s.decoded.Set(digest, db.Clone())
	return &db, nil
}

// normalize fills in missing collections so documents written by other
// clients behave like ours.
func normalize(db *core.Database) {
	if db.Funds == nil {
		db.Funds = make(map[string]*core.Fund)
	}
	for id, f := range db.Funds {
		if f == nil {
			delete(db.Funds, id)
			continue
		}
		if f.Transactions == nil {
			f.Transactions = []core.Transaction{}
		}
		if f.Members == nil {
			f.Members = []string{}
		}
	}
}

// Save overwrites the stored document and then signals the change. A failed
// signal is logged only; the write already happened and pollers will pick it up.
func (s *Store) Save(ctx context.Context, db *core.Database) error {
	raw, err := json.Marshal(db)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := s.slot.Set(ctx, s.key, raw); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	metrics.LedgerSaves.Inc()

	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.Publish(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish change signal", log.FieldError, err)
	}
	return nil
}

// Fund returns a copy of the fund with the given id.
func (s *Store) Fund(ctx context.Context, id string) (*core.Fund, error) {
	db, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	f, ok := db.Funds[id]
	if !ok {
		return nil, fmt.Errorf("fund %s: %w", id, core.ErrNotFound)
	}
	return f.Clone(), nil
}

// CreateFund stores a new fund with firstMember as its only member.
func (s *Store) CreateFund(ctx context.Context, name, id, firstMember string) (*core.Fund, error) {
	if err := core.ValidateFundName(name); err != nil {
		return nil, err
	}
	if err := core.ValidateFundID(id); err != nil {
		return nil, err
	}
	if err := core.ValidateNickname(firstMember); err != nil {
		return nil, err
	}

	db, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if _, exists := db.Funds[id]; exists {
		return nil, fmt.Errorf("fund %s: %w", id, core.ErrDuplicateID)
	}

	f := core.NewFund(name, firstMember, s.now())
	db.Funds[id] = f
	if err := s.Save(ctx, db); err != nil {
		return nil, err
	}
	return f.Clone(), nil
}

// JoinFund adds nickname to the fund's members. Joining under a nickname that
// is already a member changes nothing and writes nothing.
func (s *Store) JoinFund(ctx context.Context, id, nickname string) (*core.Fund, error) {
	if err := core.ValidateFundID(id); err != nil {
		return nil, err
	}
	if err := core.ValidateNickname(nickname); err != nil {
		return nil, err
	}

	db, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	f, ok := db.Funds[id]
	if !ok {
		return nil, fmt.Errorf("fund %s: %w", id, core.ErrNotFound)
	}

	if f.AddMember(nickname) {
		if err := s.Save(ctx, db); err != nil {
			return nil, err
		}
	}
	return f.Clone(), nil
}

// Deposit records amount paid in by user and returns the new balance.
func (s *Store) Deposit(ctx context.Context, id, user string, amount core.Money) (core.Money, error) {
	return s.apply(ctx, id, user, core.Deposit, amount)
}

// Withdraw records amount taken out by user and returns the new balance. The
// balance check runs against the snapshot just loaded; a concurrent writer in
// another process may still overwrite it.
func (s *Store) Withdraw(ctx context.Context, id, user string, amount core.Money) (core.Money, error) {
	return s.apply(ctx, id, user, core.Withdraw, amount)
}

func (s *Store) apply(ctx context.Context, id, user string, typ core.TransactionType, amount core.Money) (core.Money, error) {
	if err := amount.Validate(); err != nil {
		return core.Money{}, err
	}

	db, err := s.Load(ctx)
	if err != nil {
		return core.Money{}, err
	}
	f, ok := db.Funds[id]
	if !ok {
		return core.Money{}, fmt.Errorf("fund %s: %w", id, core.ErrNotFound)
	}

	tx := core.Transaction{
		Type:      typ,
		Amount:    amount,
		User:      user,
		Timestamp: core.NewTimestamp(s.now()),
	}
	if err := f.Apply(tx); err != nil {
		return core.Money{}, err
	}
	if err := s.Save(ctx, db); err != nil {
		return core.Money{}, err
	}
	return f.Balance, nil
}
