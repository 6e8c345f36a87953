package http

import (
	"net/http"
	"strconv"
	"time"

	"limit/internal/core"
	"limit/internal/records"
)

type ledgerEntryResponse struct {
	Account           string    `json:"account"`
	Balance           int64     `json:"balance"`
	TotalEarned       int64     `json:"total_earned"`
	CurrentTier       int       `json:"current_tier"`
	ConsecutiveMonths int64     `json:"consecutive_months"`
	LastRewardTime    time.Time `json:"last_reward_time"`
	Active            bool      `json:"active"`
}

func toEntryResponse(e core.LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		Account:           e.Account,
		Balance:           e.Balance,
		TotalEarned:       e.TotalEarned,
		CurrentTier:       e.CurrentTier,
		ConsecutiveMonths: e.ConsecutiveMonths,
		LastRewardTime:    e.LastRewardTime,
		Active:            e.Active,
	}
}

type recordResponse struct {
	Account             string `json:"account"`
	Period              int64  `json:"period"`
	Budget              int64  `json:"budget"`
	ActualSpent         int64  `json:"actual_spent"`
	ImpulseSpent        int64  `json:"impulse_spent"`
	EmergencyFundMonths int64  `json:"emergency_fund_months"`
	Evaluated           bool   `json:"evaluated"`
}

func toRecordResponse(r core.MonthlyRecord) recordResponse {
	return recordResponse{
		Account:             r.Account,
		Period:              r.Period,
		Budget:              r.Budget,
		ActualSpent:         r.ActualSpent,
		ImpulseSpent:        r.ImpulseSpent,
		EmergencyFundMonths: r.EmergencyFundMonths,
		Evaluated:           r.Evaluated,
	}
}

type statusResponse struct {
	Period        int64          `json:"period"`
	Record        recordResponse `json:"record"`
	RecordExists  bool           `json:"record_exists"`
	Baseline      int64          `json:"baseline"`
	BaselineSet   bool           `json:"baseline_set"`
	EmergencyUsed bool           `json:"emergency_used"`
}

func toStatusResponse(st records.Status) statusResponse {
	return statusResponse{
		Period:        st.Period,
		Record:        toRecordResponse(st.Record),
		RecordExists:  st.RecordExists,
		Baseline:      st.Baseline,
		BaselineSet:   st.BaselineSet,
		EmergencyUsed: st.EmergencyUsed,
	}
}

type vaultResponse struct {
	ID            int       `json:"id"`
	Type          string    `json:"type"`
	TargetAmount  int64     `json:"target_amount"`
	CurrentAmount int64     `json:"current_amount"`
	TokensSpent   int64     `json:"tokens_spent"`
	CreatedAt     time.Time `json:"created_at"`
	TargetDate    time.Time `json:"target_date"`
	Active        bool      `json:"active"`
	Description   string    `json:"description"`
}

func toVaultResponse(v core.Vault) vaultResponse {
	return vaultResponse{
		ID:            v.ID,
		Type:          string(v.Type),
		TargetAmount:  v.TargetAmount,
		CurrentAmount: v.CurrentAmount,
		TokensSpent:   v.TokensSpent,
		CreatedAt:     v.CreatedAt,
		TargetDate:    v.TargetDate,
		Active:        v.Active,
		Description:   v.Description,
	}
}

// --- accounts ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	account := sanitizeInput(req.Account)
	if account == "" {
		writeError(w, core.Wrapf(core.ErrInvalidInput, "account must not be empty"))
		return
	}

	entry, err := s.ledger.Register(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")

	if st, ok := s.statusCache.Get(account); ok {
		writeJSON(w, http.StatusOK, toStatusResponse(st))
		return
	}

	st, err := s.records.Status(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	s.statusCache.Set(account, st)
	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	period, err := strconv.ParseInt(r.PathValue("period"), 10, 64)
	if err != nil {
		writeError(w, core.Wrapf(core.ErrInvalidInput, "invalid period %q", r.PathValue("period")))
		return
	}

	rec, err := s.records.History(r.Context(), account, period)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.records.SetBudget(r.Context(), account, amount, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateStatus(account)
	writeJSON(w, http.StatusOK, map[string]int64{"budget": amount})
}

func (s *Server) handleRecordSpending(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	var req struct {
		Actual  string `json:"actual"`
		Impulse string `json:"impulse"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	actual, err := core.ParseAmount(req.Actual)
	if err != nil {
		writeError(w, err)
		return
	}
	impulse := int64(0)
	if req.Impulse != "" {
		if impulse, err = core.ParseAmount(req.Impulse); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.records.RecordSpending(r.Context(), account, actual, impulse, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateStatus(account)
	writeJSON(w, http.StatusOK, map[string]int64{"actual": actual, "impulse": impulse})
}

func (s *Server) handleRecordTransactions(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	var req struct {
		Transactions []struct {
			Amount   string    `json:"amount"`
			Category string    `json:"category"`
			Date     time.Time `json:"date"`
		} `json:"transactions"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, core.Wrapf(core.ErrInvalidInput, "transactions must not be empty"))
		return
	}

	txs := make([]core.Transaction, 0, len(req.Transactions))
	for _, t := range req.Transactions {
		amount, err := core.ParseAmount(t.Amount)
		if err != nil {
			writeError(w, err)
			return
		}
		txs = append(txs, core.Transaction{
			Amount:   amount,
			Category: t.Category,
			Date:     t.Date,
		})
	}

	actual, impulse, err := s.engine.RecordTransactions(r.Context(), account, txs, nil, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateStatus(account)
	writeJSON(w, http.StatusOK, map[string]int64{"actual": actual, "impulse": impulse})
}

func (s *Server) handleSetEmergencyFund(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	var req struct {
		Months int64 `json:"months"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.records.SetEmergencyFundMonths(r.Context(), account, req.Months, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateStatus(account)
	writeJSON(w, http.StatusOK, map[string]int64{"months": req.Months})
}

func (s *Server) handleUseEmergency(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")

	if err := s.records.UseEmergency(r.Context(), account); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateStatus(account)
	writeJSON(w, http.StatusOK, map[string]bool{"emergency_used": true})
}

// --- evaluation ---

type outcomeResponse struct {
	Account           string    `json:"account"`
	Period            int64     `json:"period"`
	CompliancePercent int64     `json:"compliance_percent"`
	ReductionPercent  int64     `json:"reduction_percent"`
	Tier              int       `json:"tier"`
	Reward            int64     `json:"reward"`
	EmergencyPenalty  bool      `json:"emergency_penalty"`
	Streak            int64     `json:"streak"`
	NextPeriod        int64     `json:"next_period"`
	EvaluatedAt       time.Time `json:"evaluated_at"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")

	out, err := s.engine.CalculateRewards(r.Context(), account, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateStatus(account)
	writeJSON(w, http.StatusOK, outcomeResponse{
		Account:           out.Account,
		Period:            out.Period,
		CompliancePercent: out.CompliancePercent,
		ReductionPercent:  out.ReductionPercent,
		Tier:              out.Tier,
		Reward:            out.Reward,
		EmergencyPenalty:  out.EmergencyPenalty,
		Streak:            out.Streak,
		NextPeriod:        out.NextPeriod,
		EvaluatedAt:       out.EvaluatedAt,
	})
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	period, err := strconv.ParseInt(r.PathValue("period"), 10, 64)
	if err != nil {
		writeError(w, core.Wrapf(core.ErrInvalidInput, "invalid period %q", r.PathValue("period")))
		return
	}

	proof, err := s.engine.Proof(r.Context(), account, period)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           proof.ID,
		"account":      proof.Account,
		"period":       proof.Period,
		"tier":         proof.Tier,
		"reward":       proof.Reward,
		"generated_at": proof.GeneratedAt,
	})
}

// --- ledger ---

func (s *Server) handleLedgerEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.ledger.Entry(r.Context(), r.PathValue("account"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	caller := callerID(r, "")
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	entry, err := s.ledger.Credit(r.Context(), caller, account, req.Amount, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	caller := callerID(r, "")
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	entry, err := s.ledger.Debit(r.Context(), caller, account, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (s *Server) handleSetTier(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	caller := callerID(r, "")
	var req struct {
		Rank int `json:"rank"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.ledger.SetTier(r.Context(), caller, account, req.Rank); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"tier": req.Rank})
}

func (s *Server) handleSetStreak(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	caller := callerID(r, "")
	var req struct {
		Months int64 `json:"months"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.ledger.SetStreak(r.Context(), caller, account, req.Months); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"streak": req.Months})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r, "")
	var req struct {
		Grantee string `json:"grantee"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.ledger.Grant(r.Context(), caller, sanitizeInput(req.Grantee)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"granted": req.Grantee})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r, "")
	var req struct {
		Revokee string `json:"revokee"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.ledger.Revoke(r.Context(), caller, sanitizeInput(req.Revokee)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"revoked": req.Revokee})
}

// --- policy ---

type tierDTO struct {
	Rank                  int   `json:"rank"`
	ComplianceCeiling     int64 `json:"compliance_ceiling"`
	ImpulseReductionFloor int64 `json:"impulse_reduction_floor"`
	EmergencyFundFloor    int64 `json:"emergency_fund_floor"`
	RewardAmount          int64 `json:"reward_amount"`
	StreakRequirement     int64 `json:"streak_requirement"`
}

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := s.policy.Tiers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]tierDTO, 0, len(tiers))
	for _, tr := range tiers {
		out = append(out, tierDTO{
			Rank:                  tr.Rank,
			ComplianceCeiling:     tr.ComplianceCeiling,
			ImpulseReductionFloor: tr.ImpulseReductionFloor,
			EmergencyFundFloor:    tr.EmergencyFundFloor,
			RewardAmount:          tr.RewardAmount,
			StreakRequirement:     tr.StreakRequirement,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateTier(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r, "")
	rank, err := strconv.Atoi(r.PathValue("rank"))
	if err != nil {
		writeError(w, core.Wrapf(core.ErrInvalidInput, "invalid rank %q", r.PathValue("rank")))
		return
	}
	var req tierDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	tier := core.TierRequirement{
		Rank:                  rank,
		ComplianceCeiling:     req.ComplianceCeiling,
		ImpulseReductionFloor: req.ImpulseReductionFloor,
		EmergencyFundFloor:    req.EmergencyFundFloor,
		RewardAmount:          req.RewardAmount,
		StreakRequirement:     req.StreakRequirement,
	}
	if err := s.policy.Update(r.Context(), caller, tier); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// --- vaults ---

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := s.vaults.Vaults(r.Context(), r.PathValue("account"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]vaultResponse, 0, len(vaults))
	for _, v := range vaults {
		out = append(out, toVaultResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	var req struct {
		Type         string    `json:"type"`
		TargetAmount string    `json:"target_amount"`
		TargetDate   time.Time `json:"target_date"`
		Description  string    `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	target, err := core.ParseAmount(req.TargetAmount)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	v, err := s.vaults.CreateVault(r.Context(), account, core.VaultType(req.Type), target, req.TargetDate, sanitizeInput(req.Description), now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVaultResponse(v))
}

func (s *Server) handleVaultDeposit(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, core.Wrapf(core.ErrInvalidInput, "invalid vault id %q", r.PathValue("id")))
		return
	}
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	v, entry, err := s.vaults.DepositToVault(r.Context(), account, id, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vault":  toVaultResponse(v),
		"ledger": toEntryResponse(entry),
	})
}
