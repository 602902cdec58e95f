package rpc

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"perpstake/crypto"
	"perpstake/native/claims"
	"perpstake/native/staking"
	"perpstake/native/vault"
)

type ownerParams struct {
	Owner string `json:"owner"`
}

type amountParams struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type lockedParams struct {
	Owner    string `json:"owner"`
	Amount   string `json:"amount"`
	LockDays uint32 `json:"lockDays"`
}

type indexParams struct {
	Owner string `json:"owner"`
	Index int    `json:"index"`
}

type pendingParams struct {
	Owner  string `json:"owner"`
	Caller string `json:"caller,omitempty"`
}

type historyParams struct {
	Owner  string `json:"owner"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type balanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

type feeParams struct {
	Category string `json:"category"`
	Fee      string `json:"fee"`
}

type swapFeeParams struct {
	Category string `json:"category"`
	FeeIn    string `json:"feeIn"`
	FeeOut   string `json:"feeOut"`
}

type fundParams struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type LedgerResult struct {
	Ledger     *staking.RoundLedger `json:"ledger"`
	Resolvable bool                 `json:"resolvable"`
	Now        int64                `json:"now"`
	Epoch      uint64               `json:"epoch"`
}

type AccountResult struct {
	Account   *staking.StakeAccount `json:"account"`
	Weight    uint64                `json:"weight"`
	Principal uint64                `json:"principal"`
}

type HistoryResult struct {
	Records    []claims.Record `json:"records"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

type BalanceResult struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance uint64 `json:"balance"`
}

type FeeResult struct {
	Reward uint64 `json:"reward"`
}

type SwapFeeResult struct {
	RewardIn  uint64 `json:"rewardIn"`
	RewardOut uint64 `json:"rewardOut"`
}

func parseAmount(amount string) (uint64, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return 0, fmt.Errorf("amount is required")
	}
	value, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount")
	}
	if value == 0 {
		return 0, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

func decodeAddressParam(field, value string) (crypto.Address, *RPCError) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: "invalid " + field + " address", Data: err.Error()}
	}
	return addr, nil
}

func writeParamError(w http.ResponseWriter, req *RPCRequest, err *RPCError) {
	writeError(w, http.StatusBadRequest, req.ID, err.Code, err.Message, err.Data)
}

func (s *Server) accountResult(r *http.Request, owner crypto.Address) (AccountResult, error) {
	acct, err := s.engine.StakeAccount(r.Context(), owner)
	if err != nil {
		return AccountResult{}, err
	}
	weight, err := acct.Weight()
	if err != nil {
		return AccountResult{}, err
	}
	principal, err := acct.Principal()
	if err != nil {
		return AccountResult{}, err
	}
	return AccountResult{Account: acct, Weight: weight, Principal: principal}, nil
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	l, err := s.engine.Ledger(r.Context())
	if err != nil {
		s.writeEngineError(w, req, "failed to load round ledger", err)
		return
	}
	now := s.engine.Now()
	resolvable, err := l.Resolvable(now)
	if err != nil {
		s.writeEngineError(w, req, "failed to check round", err)
		return
	}
	writeResult(w, req.ID, LedgerResult{Ledger: l, Resolvable: resolvable, Now: now, Epoch: s.engine.Epoch(now)})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params ownerParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	owner, perr := decodeAddressParam("owner", params.Owner)
	if perr != nil {
		writeParamError(w, req, perr)
		return
	}
	result, err := s.accountResult(r, owner)
	if err != nil {
		s.writeEngineError(w, req, "failed to load stake account", err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handlePendingReward(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params pendingParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	owner, perr := decodeAddressParam("owner", params.Owner)
	if perr != nil {
		writeParamError(w, req, perr)
		return
	}
	caller := owner
	if strings.TrimSpace(params.Caller) != "" {
		if caller, perr = decodeAddressParam("caller", params.Caller); perr != nil {
			writeParamError(w, req, perr)
			return
		}
	}
	result, err := s.engine.PendingReward(r.Context(), caller, owner)
	if err != nil {
		s.writeEngineError(w, req, "failed to preview claim", err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleClaimHistory(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params historyParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	owner, perr := decodeAddressParam("owner", params.Owner)
	if perr != nil {
		writeParamError(w, req, perr)
		return
	}
	records, next, err := s.engine.ClaimHistory(r.Context(), owner, params.Cursor, params.Limit)
	if err != nil {
		s.writeEngineError(w, req, "failed to list claims", err)
		return
	}
	if records == nil {
		records = []claims.Record{}
	}
	writeResult(w, req.ID, HistoryResult{Records: records, NextCursor: next})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params balanceParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	addr, perr := decodeAddressParam("account", params.Address)
	if perr != nil {
		writeParamError(w, req, perr)
		return
	}
	token, err := vault.ParseToken(params.Token)
	if err != nil {
		s.writeEngineError(w, req, "unsupported token", err)
		return
	}
	balance, err := s.engine.Balance(r.Context(), addr, token)
	if err != nil {
		s.writeEngineError(w, req, "failed to load balance", err)
		return
	}
	writeResult(w, req.ID, BalanceResult{Address: addr.String(), Token: string(token), Balance: balance})
}

func (s *Server) handleAddLiquid(w http.ResponseWriter, r *http.Request, req *RPCRequest, actor crypto.Address) {
	var params amountParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	owner, perr := decodeAddressParam("owner", params.Owner)
	if perr != nil {
		writeParamError(w, req, perr)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.AddLiquidStake(r.Context(), actor, owner, amount); err != nil {
		s.writeEngineError(w, req, "failed to add liquid stake", err)
		return
	}
	s.writeAccount(w, r, req, owner)
}

func (s *Server) handleAddLocked(w http.ResponseWriter, r *http.Request, req *RPCRequest, actor crypto.Address) {
	var params lockedParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	owner, perr := decodeAddressParam("owner", params.Owner)
	if perr != nil {
		writeParamError(w, req, perr)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	locked, err := s.engine.AddLockedStake(r.Context(), actor, owner, amount, params.LockDays)
	if err != nil {
		s.writeEngineError(w, req, "failed to add locked stake", err)
		return
	}
	writeResult(w, req.ID, locked)
}

func (s *Server) handleRemoveLiquid(w http.ResponseWriter, r *http.Request, req *RPCRequest, actor crypto.Address) {
	var params amountParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	owner, perr := decodeAddressParam("owner", params.Owner)
	if perr != nil {
		writeParamError(w, req, perr)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.RemoveLiquidStake(r.Context(), actor, owner, amount); err != nil {
		s.writeEngineError(w, req, "failed to remove liquid stake", err)
		return
	}
	s.writeAccount(w, r, req, owner)
}

func (s *Server) handleFinalizeLocked(w http.ResponseWriter, r *http.Request, req *RPCRequest, actor crypto.Address) {
	var params indexParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	owner, perr := decodeAddressParam("owner", params.Owner)
	if perr != nil {
		writeParamError(w, req, perr)
		return
	}
	locked, err := s.engine.FinalizeLockedStake(r.Context(), actor, owner, params.Index)
	if err != nil {
		s.writeEngineError(w, req, "failed to finalize locked stake", err)
		return
	}
	writeResult(w, req.ID, locked)
}

func (s *Server) handleRemoveLocked(w http.ResponseWriter, r *http.Request, req *RPCRequest, actor crypto.Address) {
	var params indexParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	owner, perr := decodeAddressParam("owner", params.Owner)
	if perr != nil {
		writeParamError(w, req, perr)
		return
	}
	locked, err := s.engine.RemoveLockedStake(r.Context(), actor, owner, params.Index)
	if err != nil {
		s.writeEngineError(w, req, "failed to remove locked stake", err)
		return
	}
	writeResult(w, req.ID, locked)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest, actor crypto.Address) {
	var params ownerParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	owner, perr := decodeAddressParam("owner", params.Owner)
	if perr != nil {
		writeParamError(w, req, perr)
		return
	}
	result, err := s.engine.Claim(r.Context(), actor, owner)
	if err != nil {
		s.writeEngineError(w, req, "failed to claim rewards", err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleResolveRound(w http.ResponseWriter, r *http.Request, req *RPCRequest, actor crypto.Address) {
	result, err := s.engine.ResolveRound(r.Context(), actor)
	if err != nil {
		s.writeEngineError(w, req, "failed to resolve round", err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) requireReporter(w http.ResponseWriter, req *RPCRequest, actor crypto.Address) bool {
	if _, ok := s.reporters[actor]; ok {
		return true
	}
	writeError(w, http.StatusForbidden, req.ID, codeForbidden, "actor may not report fees", actor.String())
	return false
}

func (s *Server) handleReportFee(w http.ResponseWriter, r *http.Request, req *RPCRequest, actor crypto.Address) {
	if !s.requireReporter(w, req, actor) {
		return
	}
	var params feeParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	fee, err := parseAmount(params.Fee)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	reward, err := s.engine.ReportFee(r.Context(), params.Category, fee)
	if err != nil {
		s.writeEngineError(w, req, "failed to report fee", err)
		return
	}
	writeResult(w, req.ID, FeeResult{Reward: reward})
}

func (s *Server) handleReportSwapFees(w http.ResponseWriter, r *http.Request, req *RPCRequest, actor crypto.Address) {
	if !s.requireReporter(w, req, actor) {
		return
	}
	var params swapFeeParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	feeIn, err := parseAmount(params.FeeIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "feeIn: "+err.Error(), nil)
		return
	}
	feeOut, err := parseAmount(params.FeeOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "feeOut: "+err.Error(), nil)
		return
	}
	in, out, err := s.engine.ReportSwapFees(r.Context(), params.Category, feeIn, feeOut)
	if err != nil {
		s.writeEngineError(w, req, "failed to report swap fees", err)
		return
	}
	writeResult(w, req.ID, SwapFeeResult{RewardIn: in, RewardOut: out})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params fundParams
	if perr := decodeParams(req, &params); perr != nil {
		writeParamError(w, req, perr)
		return
	}
	to, perr := decodeAddressParam("recipient", params.To)
	if perr != nil {
		writeParamError(w, req, perr)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.Fund(r.Context(), to, amount); err != nil {
		s.writeEngineError(w, req, "failed to fund account", err)
		return
	}
	balance, err := s.engine.Balance(r.Context(), to, vault.StakeToken)
	if err != nil {
		s.writeEngineError(w, req, "failed to load balance", err)
		return
	}
	writeResult(w, req.ID, BalanceResult{Address: to.String(), Token: string(vault.StakeToken), Balance: balance})
}

func (s *Server) writeAccount(w http.ResponseWriter, r *http.Request, req *RPCRequest, owner crypto.Address) {
	result, err := s.accountResult(r, owner)
	if err != nil {
		s.writeEngineError(w, req, "failed to load stake account", err)
		return
	}
	writeResult(w, req.ID, result)
}
