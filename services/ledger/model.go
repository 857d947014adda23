package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"ppv-trustcore/services/account"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Reason string

const (
	ReasonCommission    Reason = "COMMISSION"
	ReasonTierBonus     Reason = "TIER_BONUS"
	ReasonReferralBonus Reason = "REFERRAL_BONUS"
	ReasonCreatorBonus  Reason = "CREATOR_BONUS"
	ReasonPayout        Reason = "PAYOUT"
)

// LedgerEntry is an append-only balance movement. Entries of one account form
// a hash chain ordered by Sequence.
type LedgerEntry struct {
	ID           string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	AccountID    string          `gorm:"column:account_id;type:varchar(32);not null;uniqueIndex:idx_ledger_account_seq,priority:1" json:"account_id"`
	Sequence     int64           `gorm:"column:sequence;not null;uniqueIndex:idx_ledger_account_seq,priority:2" json:"sequence"`
	Amount       decimal.Decimal `gorm:"column:amount;type:decimal(20,8);not null" json:"amount"`
	Reason       Reason          `gorm:"column:reason;type:varchar(32);not null;index" json:"reason"`
	ReferenceID  string          `gorm:"column:reference_id;type:varchar(64);index" json:"reference_id,omitempty"`
	Description  string          `gorm:"column:description;type:text" json:"description,omitempty"`
	PreviousHash string          `gorm:"column:previous_hash;type:char(64)" json:"previous_hash"`
	Hash         string          `gorm:"column:hash;type:char(64);not null" json:"hash"`
	Metadata     datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time       `gorm:"column:created_at;index" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "balance_ledger_entries" }

func (m *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":            m.ID,
		"account_id":    m.AccountID,
		"sequence":      fmt.Sprintf("%d", m.Sequence),
		"amount":        m.Amount.String(),
		"reason":        string(m.Reason),
		"reference_id":  m.ReferenceID,
		"description":   m.Description,
		"created_at":    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": m.PreviousHash,
	}
}

func (m *LedgerEntry) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

type CreditRequest struct {
	AccountID   string
	Amount      decimal.Decimal
	Reason      Reason
	ReferenceID string
	Description string
	Metadata    datatypes.JSON
	// SkipTierEvaluation is set for the tier bonus itself so that a bonus
	// never triggers another upgrade.
	SkipTierEvaluation bool
}

type DebitRequest struct {
	AccountID   string
	Amount      decimal.Decimal
	Reason      Reason
	ReferenceID string
	Description string
}

type CreditResult struct {
	Entry      *LedgerEntry
	Upgraded   bool
	TierBefore account.Tier
	TierAfter  account.Tier
	BonusEntry *LedgerEntry
}
