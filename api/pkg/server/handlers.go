package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/mr-tron/base58"

	"github.com/malbeclabs/bonds/api/pkg/metrics"
	"github.com/malbeclabs/bonds/ledger/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/bonds"
	"github.com/malbeclabs/bonds/utils/pkg/retry"
)

const maxActivityLimit = 1000

func (s *Server) postTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	ix, err := req.instruction()
	if err != nil {
		if _, ok := bonds.AsProgramError(err); ok {
			s.fail(w, r, err)
		} else {
			s.badRequest(w, err)
		}
		return
	}

	tx := bonds.Transaction{Signers: req.Signers, Instruction: ix}
	op := ix.Opcode().String()
	cfg := s.cfg.Retry
	cfg.OnRetry = func(attempt int, err error) {
		metrics.TransactionRetriesTotal.WithLabelValues(op).Inc()
		s.log.Debug("server: retrying transaction", "op", op, "attempt", attempt, "error", err)
	}

	var receipt *bonds.Receipt
	err = retry.Do(r.Context(), cfg, func() error {
		var err error
		receipt, err = s.cfg.Processor.Process(r.Context(), tx)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, receiptJSON(receipt))
}

func (s *Server) getAdmin(w http.ResponseWriter, r *http.Request) {
	admin, err := s.cfg.Processor.Admin(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, adminJSON(s.cfg.Processor.Addresses().GlobalAdmin().Address, admin))
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	wallet, err := keyParam(r, "wallet")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	reg, err := s.cfg.Processor.Registry(r.Context(), wallet)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, registryJSON(s.cfg.Processor.Addresses().UserRegistry(wallet).Address, reg))
}

// listBonds returns every bond the wallet ever opened, oldest first.
// ?active=true keeps only open bonds.
func (s *Server) listBonds(w http.ResponseWriter, r *http.Request) {
	wallet, err := keyParam(r, "wallet")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	reg, err := s.cfg.Processor.Registry(r.Context(), wallet)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := struct {
		Bonds []BondJSON `json:"bonds"`
	}{Bonds: []BondJSON{}}
	for i := range int(reg.BondIndex) {
		index := uint8(i)
		if activeOnly && !reg.HasActiveBond(index) {
			continue
		}
		v, err := s.cfg.Processor.Bond(r.Context(), wallet, index)
		if errors.Is(err, bonds.ErrBondNotFound) {
			continue
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out.Bonds = append(out.Bonds, bondJSON(v))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getBond(w http.ResponseWriter, r *http.Request) {
	wallet, err := keyParam(r, "wallet")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 8)
	if err != nil {
		s.badRequest(w, fmt.Errorf("invalid bond index: %w", err))
		return
	}
	v, err := s.cfg.Processor.Bond(r.Context(), wallet, uint8(index))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, bondJSON(v))
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request) {
	wallet, err := keyParam(r, "wallet")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxActivityLimit {
			s.badRequest(w, fmt.Errorf("limit must be between 1 and %d", maxActivityLimit))
			return
		}
	}
	rows, err := s.cfg.Activity.Recent(r.Context(), wallet.String(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := struct {
		Activity []ActivityJSON `json:"activity"`
	}{Activity: make([]ActivityJSON, 0, len(rows))}
	for _, row := range rows {
		out.Activity = append(out.Activity, ActivityJSON{
			ID:        row.ID.String(),
			Time:      row.Time.UTC().Format(time.RFC3339Nano),
			Op:        row.Op,
			Signer:    row.Signer,
			BondIndex: row.BondIndex,
			Amount:    row.Amount,
			Reward:    row.Reward,
			Compound:  row.Compound,
			NewBond:   row.NewBond,
			Outcome:   row.Outcome,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := keyParam(r, "address")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	acct, err := s.cfg.Processor.Account(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, AccountJSON{
		Address: acct.Address,
		Owner:   acct.Owner,
		Size:    len(acct.Data),
		Data:    base58.Encode(acct.Data),
	})
}

func (s *Server) getTokenAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := keyParam(r, "address")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	acct, err := s.cfg.Processor.TokenAccount(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tokenAccountJSON(acct))
}

func (s *Server) postFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.Amount == 0 {
		s.badRequest(w, errors.New("amount must be positive"))
		return
	}
	admin, err := s.cfg.Processor.Admin(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	d := s.cfg.Processor.Addresses()
	target := ledger.TokenAccount{Mint: admin.NativeTokenMint}
	switch {
	case req.RewardsPool:
		target.Address = admin.RewardsPoolAccount
		target.Owner = d.GlobalAdmin().Address
	case !req.Owner.IsZero():
		target.Address = d.TokenAccount(req.Owner, admin.NativeTokenMint)
		target.Owner = req.Owner
	default:
		s.badRequest(w, errors.New("owner or rewards_pool is required"))
		return
	}

	if err := ledger.Fund(r.Context(), s.cfg.Ledger, target, req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	acct, err := s.cfg.Processor.TokenAccount(r.Context(), target.Address)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("server: faucet minted", "account", target.Address, "amount", req.Amount, "balance", acct.Amount)
	s.writeJSON(w, http.StatusOK, tokenAccountJSON(acct))
}

func tokenAccountJSON(acct *ledger.TokenAccount) TokenAccountJSON {
	return TokenAccountJSON{Address: acct.Address, Owner: acct.Owner, Mint: acct.Mint, Amount: acct.Amount}
}

func keyParam(r *http.Request, name string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(chi.URLParam(r, name))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return pk, nil
}

// decode reads a single JSON value from the body, rejecting unknown fields.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "InvalidRequest", Message: err.Error()})
}

// statusOf maps a program error kind to an HTTP status.
func statusOf(pe *bonds.ProgramError) int {
	switch pe {
	case bonds.ErrInvalidInstruction:
		return http.StatusBadRequest
	case bonds.ErrUnauthorized:
		return http.StatusForbidden
	case bonds.ErrNotInitialized, bonds.ErrUserNotFound, bonds.ErrBondNotFound:
		return http.StatusNotFound
	case bonds.ErrAlreadyInitialized, bonds.ErrAlreadyExists:
		return http.StatusConflict
	}
	if pe.TryLater() {
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if pe, ok := bonds.AsProgramError(err); ok {
		code := int(pe.Code)
		s.writeJSON(w, statusOf(pe), ErrorResponse{
			Error:    pe.Kind,
			Code:     &code,
			Message:  err.Error(),
			TryLater: pe.TryLater(),
		})
		return
	}

	switch {
	case errors.Is(err, context.Canceled):
		s.log.Debug("server: request canceled", "path", r.URL.Path)
		return
	case errors.Is(err, ledger.ErrAccountNotFound):
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "AccountNotFound", Message: err.Error()})
		return
	case errors.Is(err, ledger.ErrMintMismatch):
		s.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "MintMismatch", Message: err.Error()})
		return
	case errors.Is(err, ledger.ErrInvalidAmount):
		s.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "InvalidAmount", Message: err.Error()})
		return
	}

	s.log.Error("server: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
	}
	s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: bonds.OutcomeInternal, Message: "internal error"})
}
