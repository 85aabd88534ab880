package services

import (
	"context"
	"fmt"
	"strings"

	"kasse/internal/core"
	"kasse/internal/ledger"
	"kasse/internal/log"
	"kasse/internal/metrics"
)

// ErrNoSession is returned for money operations attempted without a fund.
var ErrNoSession = &core.ValidationError{Field: "session", Reason: "no fund selected, create or join one first"}

// View is what a member sees of a fund.
type View struct {
	FundID   string             `json:"id"`
	Name     string             `json:"name"`
	Nickname string             `json:"nickname,omitempty"`
	Balance  core.Money         `json:"balance"`
	History  []core.Transaction `json:"history"`
	Members  []string           `json:"members"`
	Created  core.Timestamp     `json:"created"`
}

// NewView builds the view of f for nickname. History is newest first.
func NewView(id, nickname string, f *core.Fund) View {
	members := make([]string, len(f.Members))
	copy(members, f.Members)
	return View{
		FundID:   id,
		Name:     f.Name,
		Nickname: nickname,
		Balance:  f.Balance,
		History:  f.History(),
		Members:  members,
		Created:  f.Created,
	}
}

// FundService accepts raw user input, validates it and runs the matching
// ledger operation. Sessions are passed in and returned, never stored.
type FundService struct {
	store  *ledger.Store
	logger *log.StructuredLogger
}

func NewFundService(store *ledger.Store, logger *log.Logger) *FundService {
	if logger == nil {
		logger = log.Default(log.ComponentLedger)
	}
	return &FundService{
		store:  store,
		logger: log.NewStructuredLogger(logger),
	}
}

// CreateFund creates a fund and returns the creator's session.
func (s *FundService) CreateFund(ctx context.Context, name, id, nickname string) (core.Session, View, error) {
	name, id, nickname = strings.TrimSpace(name), strings.TrimSpace(id), strings.TrimSpace(nickname)

	f, err := s.store.CreateFund(ctx, name, id, nickname)
	if err != nil {
		return core.Session{}, View{}, s.fail(ctx, log.OpCreate, id, nickname, err)
	}

	s.logger.LogFundOperation(ctx, log.OpCreate, id, nickname, nil)
	return core.Session{Nickname: nickname, FundID: id}, NewView(id, nickname, f), nil
}

// JoinFund adds nickname to an existing fund and returns the new session.
func (s *FundService) JoinFund(ctx context.Context, id, nickname string) (core.Session, View, error) {
	id, nickname = strings.TrimSpace(id), strings.TrimSpace(nickname)

	f, err := s.store.JoinFund(ctx, id, nickname)
	if err != nil {
		return core.Session{}, View{}, s.fail(ctx, log.OpJoin, id, nickname, err)
	}

	s.logger.LogFundOperation(ctx, log.OpJoin, id, nickname, nil)
	return core.Session{Nickname: nickname, FundID: id}, NewView(id, nickname, f), nil
}

// LeaveFund ends sess. Nothing is written.
func (s *FundService) LeaveFund(sess core.Session) core.Session {
	return core.Session{}
}

// Deposit parses rawAmount and pays it into the session's fund.
func (s *FundService) Deposit(ctx context.Context, sess core.Session, rawAmount string) (core.Money, error) {
	return s.move(ctx, log.OpDeposit, sess, rawAmount, s.store.Deposit)
}

// Withdraw parses rawAmount and takes it out of the session's fund.
func (s *FundService) Withdraw(ctx context.Context, sess core.Session, rawAmount string) (core.Money, error) {
	return s.move(ctx, log.OpWithdraw, sess, rawAmount, s.store.Withdraw)
}

type moveFunc func(ctx context.Context, id, user string, amount core.Money) (core.Money, error)

func (s *FundService) move(ctx context.Context, op string, sess core.Session, rawAmount string, fn moveFunc) (core.Money, error) {
	sess.FundID, sess.Nickname = strings.TrimSpace(sess.FundID), strings.TrimSpace(sess.Nickname)
	if sess.IsAnonymous() {
		return core.Money{}, s.fail(ctx, op, "", "", ErrNoSession)
	}
	if err := core.ValidateNickname(sess.Nickname); err != nil {
		return core.Money{}, s.fail(ctx, op, sess.FundID, sess.Nickname, err)
	}

	amount, err := core.ParseAmount(rawAmount)
	if err != nil {
		return core.Money{}, s.fail(ctx, op, sess.FundID, sess.Nickname, err)
	}

	balance, err := fn(ctx, sess.FundID, sess.Nickname, amount)
	if err != nil {
		return core.Money{}, s.fail(ctx, op, sess.FundID, sess.Nickname, err)
	}

	s.logger.LogFundOperation(ctx, op, sess.FundID, sess.Nickname, log.NewFields().
		With(log.FieldAmount, amount.Fixed()).
		With(log.FieldBalance, balance.Fixed()))
	return balance, nil
}

// View reads the session's fund fresh from the store.
func (s *FundService) View(ctx context.Context, sess core.Session) (View, error) {
	if sess.IsAnonymous() {
		return View{}, ErrNoSession
	}
	f, err := s.store.Fund(ctx, sess.FundID)
	if err != nil {
		return View{}, err
	}
	return NewView(sess.FundID, sess.Nickname, f), nil
}

// Lookup reads a fund without a session, for read-only collaborators.
func (s *FundService) Lookup(ctx context.Context, id string) (View, error) {
	id = strings.TrimSpace(id)
	if err := core.ValidateFundID(id); err != nil {
		return View{}, err
	}
	return s.View(ctx, core.Session{FundID: id})
}

// fail counts err and logs anything that is not plain user error.
func (s *FundService) fail(ctx context.Context, op, id, nickname string, err error) error {
	kind := core.ErrorKind(err)
	metrics.OperationFailures.WithLabelValues(op, kind).Inc()
	if kind == "internal" {
		s.logger.LogError(ctx, "Fund operation failed", err, log.ComponentLedger, op, log.NewFields().WithFund(id, nickname))
		return fmt.Errorf("%s: %w", op, err)
	}
	return err
}
