package payout

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
)

type Method string

const (
	MethodPaypal       Method = "PAYPAL"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodMobileMoney  Method = "MOBILE_MONEY"
)

func (m Method) Valid() bool {
	switch m {
	case MethodPaypal, MethodBankTransfer, MethodMobileMoney:
		return true
	}
	return false
}

type Payout struct {
	ID          string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Code        string          `gorm:"column:code;type:varchar(32);uniqueIndex" json:"code"`
	AccountID   string          `gorm:"column:account_id;type:varchar(32);not null;index" json:"account_id"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(20,8);not null" json:"amount"`
	Method      Method          `gorm:"column:method;type:varchar(32);not null" json:"method"`
	Destination string          `gorm:"column:destination;type:text" json:"destination,omitempty"`
	Status      Status          `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	Reason      string          `gorm:"column:reason;type:text" json:"reason,omitempty"`
	ProcessedAt *time.Time      `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Payout) TableName() string { return "payouts" }

type RequestInput struct {
	AccountID   string
	Amount      decimal.Decimal
	Method      Method
	Destination string
}
