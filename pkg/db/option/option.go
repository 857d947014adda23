package option

import (
	"fmt"
	"strings"
	"time"

	"ppv-trustcore/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption decorates a query before it runs.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
	IS  Operator = "IS"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func Apply(db *gorm.DB, opts ...QueryOption) *gorm.DB {
	for _, opt := range opts {
		if opt != nil {
			db = opt(db)
		}
	}
	return db
}

// ApplyOperator adds a comparison on a column. IS accepts only NULL / NOT NULL.
func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			col := clause.Column{Name: c.Field}
			switch c.Operator {
			case IS:
				if v, _ := c.Value.(string); strings.EqualFold(v, "NOT NULL") {
					db = db.Where("? IS NOT NULL", col)
				} else {
					db = db.Where("? IS NULL", col)
				}
			case IN:
				db = db.Where("? IN ?", col, c.Value)
			case "":
				db = db.Where("? = ?", col, c.Value)
			default:
				db = db.Where(fmt.Sprintf("? %s ?", c.Operator), col, c.Value)
			}
		}
		return db
	}
}

// Since restricts rows to created_at >= t.
func Since(t time.Time) QueryOption {
	return ApplyOperator(Condition{Field: "created_at", Operator: GTE, Value: t})
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if s.SortBy == "" || (s.Allow != nil && !s.Allow[s.SortBy]) {
			return db
		}
		return db.Order(clause.OrderByColumn{
			Column: clause.Column{Name: s.SortBy},
			Desc:   strings.EqualFold(s.OrderBy, "desc"),
		})
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

// ApplyPagination pages newest first on (created_at, id). One extra row is
// fetched so callers can tell whether another page exists.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		if limit > 250 {
			limit = 250
		}

		if p.Cursor != "" {
			if cursor, err := pagination.DecodeCursor(p.Cursor); err == nil && cursor.CreatedAt != "" {
				if at, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt); err == nil {
					db = db.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, cursor.ID)
				}
			}
		}

		return db.Order("created_at DESC").Order("id DESC").Limit(limit + 1)
	}
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate takes row locks for the rest of the query. sqlite ignores it.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
