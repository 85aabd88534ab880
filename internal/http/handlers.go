package http

import (
	"context"
	"net/http"

	"kasse/internal/core"
)

func (s *Server) handleCreateFund(w http.ResponseWriter, r *http.Request) {
	var req createFundRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	_, view, err := s.svc.CreateFund(r.Context(), req.Name, req.ID, req.Nickname)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/funds/"+view.FundID)
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetFund(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleJoinFund(w http.ResponseWriter, r *http.Request) {
	var req joinFundRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	_, view, err := s.svc.JoinFund(r.Context(), r.PathValue("id"), req.Nickname)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, s.svc.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, s.svc.Withdraw)
}

// handleMove runs a deposit or withdrawal. The request carries the session
// the browser would have held: the fund in the path and the nickname in the body.
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, fn func(context.Context, core.Session, string) (core.Money, error)) {
	var req moneyRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	id := r.PathValue("id")
	if err := core.ValidateFundID(id); err != nil {
		writeError(w, r, err)
		return
	}

	sess := core.Session{Nickname: req.Nickname, FundID: id}
	balance, err := fn(r.Context(), sess, string(req.Amount))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}
