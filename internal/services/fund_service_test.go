package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kasse/internal/core"
	"kasse/internal/ledger"
	"kasse/internal/storage/memory"
)

func newTestService() *FundService {
	return NewFundService(ledger.New(memory.New(), nil), nil)
}

func TestFundService_CreateFundTrimsInput(t *testing.T) {
	svc := newTestService()

	sess, view, err := svc.CreateFund(context.Background(), "  Urlaub2024 ", " 1234", "Anna  ")
	if err != nil {
		t.Fatalf("CreateFund() error = %v", err)
	}
	if sess != (core.Session{Nickname: "Anna", FundID: "1234"}) {
		t.Errorf("session = %+v", sess)
	}
	if view.Name != "Urlaub2024" || view.FundID != "1234" || view.Nickname != "Anna" {
		t.Errorf("view = %+v", view)
	}
	if !view.Balance.IsZero() || len(view.History) != 0 {
		t.Errorf("new fund should be empty: %+v", view)
	}
}

func TestFundService_JoinUnknownFund(t *testing.T) {
	svc := newTestService()

	sess, _, err := svc.JoinFund(context.Background(), "9999", "Bob")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("JoinFund() error = %v, want ErrNotFound", err)
	}
	if !sess.IsAnonymous() {
		t.Errorf("failed join should return the anonymous session, got %+v", sess)
	}
}

func TestFundService_DepositAndWithdraw(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	anna, _, err := svc.CreateFund(ctx, "Urlaub2024", "1234", "Anna")
	if err != nil {
		t.Fatalf("CreateFund() error = %v", err)
	}
	bob, _, err := svc.JoinFund(ctx, "1234", "Bob")
	if err != nil {
		t.Fatalf("JoinFund() error = %v", err)
	}

	if bal, err := svc.Deposit(ctx, anna, "50,00"); err != nil || bal.Cents != 5000 {
		t.Fatalf("Deposit() = %v, %v; want 50.00", bal.Fixed(), err)
	}
	if bal, err := svc.Withdraw(ctx, bob, " 20.00 "); err != nil || bal.Cents != 3000 {
		t.Fatalf("Withdraw() = %v, %v; want 30.00", bal.Fixed(), err)
	}

	view, err := svc.View(ctx, anna)
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if len(view.History) != 2 {
		t.Fatalf("history = %d entries, want 2", len(view.History))
	}
	if view.History[0].Type != core.Withdraw || view.History[0].User != "Bob" {
		t.Errorf("newest entry should be Bob's withdrawal, got %+v", view.History[0])
	}
	if len(view.Members) != 2 {
		t.Errorf("members = %v", view.Members)
	}
}

func TestFundService_MoneyErrors(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	anna, _, err := svc.CreateFund(ctx, "Urlaub2024", "1234", "Anna")
	if err != nil {
		t.Fatalf("CreateFund() error = %v", err)
	}

	tests := []struct {
		name     string
		sess     core.Session
		withdraw bool
		amount   string
		wantKind string
	}{
		{name: "no session", sess: core.Session{}, amount: "10", wantKind: "validation"},
		{name: "not a number", sess: anna, amount: "abc", wantKind: "validation"},
		{name: "zero", sess: anna, amount: "0", wantKind: "validation"},
		{name: "negative", sess: anna, amount: "-5", wantKind: "validation"},
		{name: "overdraw", sess: anna, withdraw: true, amount: "0.01", wantKind: "insufficient_funds"},
		{name: "blank nickname", sess: core.Session{Nickname: "  ", FundID: "1234"}, amount: "1", wantKind: "validation"},
		{name: "control char nickname", sess: core.Session{Nickname: "An\tna", FundID: "1234"}, amount: "1", wantKind: "validation"},
		{name: "long nickname", sess: core.Session{Nickname: strings.Repeat("x", 51), FundID: "1234"}, amount: "1", wantKind: "validation"},
		{name: "fund vanished", sess: core.Session{Nickname: "Anna", FundID: "5555"}, amount: "1", wantKind: "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.withdraw {
				_, err = svc.Withdraw(ctx, tt.sess, tt.amount)
			} else {
				_, err = svc.Deposit(ctx, tt.sess, tt.amount)
			}
			if got := core.ErrorKind(err); got != tt.wantKind {
				t.Errorf("error = %v (kind %q), want kind %q", err, got, tt.wantKind)
			}
		})
	}
}

func TestFundService_MoveTrimsSession(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, _, err := svc.CreateFund(ctx, "Urlaub2024", "1234", "Anna"); err != nil {
		t.Fatalf("CreateFund() error = %v", err)
	}
	if _, err := svc.Deposit(ctx, core.Session{Nickname: " Anna ", FundID: " 1234"}, "5"); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}

	view, err := svc.View(ctx, core.Session{Nickname: "Anna", FundID: "1234"})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if len(view.History) != 1 || view.History[0].User != "Anna" {
		t.Errorf("history = %+v, want one entry by Anna", view.History)
	}
}

func TestFundService_NoSessionError(t *testing.T) {
	svc := newTestService()

	_, err := svc.Deposit(context.Background(), core.Session{}, "10")
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("Deposit() error = %v, want ErrNoSession", err)
	}
	if _, err := svc.View(context.Background(), core.Session{}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("View() error = %v, want ErrNoSession", err)
	}
}

func TestFundService_LeaveFund(t *testing.T) {
	svc := newTestService()
	if got := svc.LeaveFund(core.Session{Nickname: "Anna", FundID: "1234"}); !got.IsAnonymous() {
		t.Errorf("LeaveFund() = %+v, want anonymous session", got)
	}
}

func TestFundService_Lookup(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, _, err := svc.CreateFund(ctx, "Urlaub2024", "1234", "Anna"); err != nil {
		t.Fatalf("CreateFund() error = %v", err)
	}

	view, err := svc.Lookup(ctx, "1234")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if view.Nickname != "" || view.Name != "Urlaub2024" {
		t.Errorf("view = %+v", view)
	}
	if _, err := svc.Lookup(ctx, "12a4"); !core.IsValidation(err) {
		t.Errorf("Lookup(12a4) error = %v, want validation error", err)
	}
}
