package signal

import (
	"time"
)

// AddressClass is the network classification of a client address.
type AddressClass string

const (
	AddressPublic   AddressClass = "PUBLIC"
	AddressReserved AddressClass = "RESERVED"
	// AddressUnparseable is scored like AddressReserved.
	AddressUnparseable AddressClass = "UNPARSEABLE"
)

// IsReserved reports whether the class should be penalised as non-public.
func (c AddressClass) IsReserved() bool {
	return c == AddressReserved || c == AddressUnparseable
}

type RequestLog struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Address   string    `gorm:"column:address;type:varchar(64);not null;index:idx_request_log_addr_time,priority:1" json:"address"`
	Endpoint  string    `gorm:"column:endpoint;type:varchar(255)" json:"endpoint"`
	UserAgent string    `gorm:"column:user_agent;type:text" json:"user_agent"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_request_log_addr_time,priority:2;index" json:"created_at"`
}

func (RequestLog) TableName() string { return "request_logs" }

type BlacklistedAddress struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Address   string    `gorm:"column:address;type:varchar(64);uniqueIndex;not null" json:"address"`
	Reason    string    `gorm:"column:reason;type:text" json:"reason"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (BlacklistedAddress) TableName() string { return "blacklisted_addresses" }

// Visit describes the incoming request being assessed.
type Visit struct {
	Address        string
	Endpoint       string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
}

// Facts is the signal bundle handed to the scoring engine.
type Facts struct {
	Visit

	Class          AddressClass
	Blacklisted    bool
	RecentRequests int
	// Intervals holds the gaps between consecutive requests, oldest first.
	Intervals []time.Duration
}
