package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Routing keys double as queue names on the direct exchange.
const (
	KeyLedgerEvents   = "ledger_events"
	KeyEvaluationJobs = "evaluation_jobs"
)

// Event type discriminators carried in the envelope.
const (
	TypeRewardCredited = "reward.credited"
	TypeTierChanged    = "tier.changed"
	TypeStreakUpdated  = "streak.updated"
	TypePeriodAdvanced = "period.advanced"
	TypeVaultDeposit   = "vault.deposit"
)

// Envelope wraps every published ledger event with an id, type and time so
// consumers can dispatch without sniffing payload fields.
type Envelope struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func newEnvelope(eventType string, payload any) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	}, nil
}

func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func EnvelopeFromJSON(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// RewardCreditedMessage reports a reward-ledger balance change.
type RewardCreditedMessage struct {
	Account     string `json:"account"`
	Period      int64  `json:"period"`
	Reward      int64  `json:"reward"`
	Halved      bool   `json:"halved"`
	Balance     int64  `json:"balance"`
	TotalEarned int64  `json:"total_earned"`
}

// TierChangedMessage reports the tier selected by an evaluation.
type TierChangedMessage struct {
	Account           string `json:"account"`
	Period            int64  `json:"period"`
	Tier              int    `json:"tier"`
	CompliancePercent int64  `json:"compliance_percent"`
	ReductionPercent  int64  `json:"reduction_percent"`
}

// StreakUpdatedMessage reports the post-evaluation streak length.
type StreakUpdatedMessage struct {
	Account string `json:"account"`
	Period  int64  `json:"period"`
	Streak  int64  `json:"streak"`
}

// PeriodAdvancedMessage reports an account moving to its next period.
type PeriodAdvancedMessage struct {
	Account    string `json:"account"`
	FromPeriod int64  `json:"from_period"`
	ToPeriod   int64  `json:"to_period"`
}

// VaultDepositMessage reports ledger tokens converted into vault progress.
type VaultDepositMessage struct {
	Account       string `json:"account"`
	VaultID       int    `json:"vault_id"`
	Amount        int64  `json:"amount"`
	CurrentAmount int64  `json:"current_amount"`
	Balance       int64  `json:"balance"`
}

// EvaluationJobMessage asks the worker to evaluate one account's current
// period. The worker re-reads all state; the message carries only the key.
type EvaluationJobMessage struct {
	JobID     string    `json:"job_id"`
	Account   string    `json:"account"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEvaluationJobMessage(account string) *EvaluationJobMessage {
	return &EvaluationJobMessage{
		JobID:     uuid.NewString(),
		Account:   account,
		Timestamp: time.Now().UTC(),
	}
}

func (m *EvaluationJobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func EvaluationJobMessageFromJSON(data []byte) (*EvaluationJobMessage, error) {
	var m EvaluationJobMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
