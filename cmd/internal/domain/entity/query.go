package entity

import "time"

type QueryStatus string

const (
	StatusQueued      QueryStatus = "queued"
	StatusProcessing  QueryStatus = "processing"
	StatusCompleted   QueryStatus = "completed"
	StatusError       QueryStatus = "error"
	StatusRateLimited QueryStatus = "rate_limited"
)

// CNPJQuery tracks one CNPJ through the enrichment pipeline. The newest row
// per CNPJ (by created_at) is the authoritative one; RetryCount accumulates
// transient-failure attempts against the same row.
type CNPJQuery struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	CNPJ         string      `gorm:"column:cnpj;index:idx_query_cnpj_created,priority:1" json:"cnpj"`
	Status       QueryStatus `gorm:"index" json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	RetryCount   int         `json:"retry_count"`
	CreatedAt    time.Time   `gorm:"index:idx_query_cnpj_created,priority:2,sort:desc" json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (CNPJQuery) TableName() string {
	return "cnpj_queries"
}

// IsTerminal reports whether no worker should pick this row up again
// without an explicit re-queue.
func (s QueryStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusRateLimited
}
