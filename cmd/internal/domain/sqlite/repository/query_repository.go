package repository

import (
	"errors"
	"time"

	"cnpjconsulta/cmd/internal/domain/entity"

	"github.com/labstack/gommon/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnqueueAck is the per-CNPJ answer to a submission.
type EnqueueAck string

const (
	AckQueued         EnqueueAck = "queued"
	AckAlreadyPending EnqueueAck = "already_pending"
	AckAlreadyDone    EnqueueAck = "already_done"
	AckInvalid        EnqueueAck = "invalid"
)

// DefaultQueryRepository is the sole mediator of durable job state. Every
// exported method is its own transaction; callers never share a session
// across a suspension point.
type DefaultQueryRepository struct {
	db *gorm.DB
}

func NewQueryRepository(db *gorm.DB) *DefaultQueryRepository {
	return &DefaultQueryRepository{db: db}
}

// Enqueue records a new queued row for the CNPJ unless the latest row is
// already pending or completed. The check and insert share one transaction
// so concurrent submissions of the same CNPJ cannot both insert.
func (r *DefaultQueryRepository) Enqueue(cnpj string) (EnqueueAck, error) {
	ack := AckQueued
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var latest entity.CNPJQuery
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("cnpj = ?", cnpj).
			Order("created_at DESC, id DESC").
			First(&latest).Error

		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err == nil {
			switch latest.Status {
			case entity.StatusQueued, entity.StatusProcessing:
				ack = AckAlreadyPending
				return nil
			case entity.StatusCompleted:
				ack = AckAlreadyDone
				return nil
			}
		}

		ack = AckQueued
		return tx.Create(&entity.CNPJQuery{
			CNPJ:   cnpj,
			Status: entity.StatusQueued,
		}).Error
	})
	if err != nil {
		return "", err
	}
	return ack, nil
}

// Claim transitions queued -> processing for the CNPJ's pending row. Returns
// false when another worker already claimed it or when nothing is queued.
func (r *DefaultQueryRepository) Claim(cnpj string) (bool, error) {
	claimed := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entity.CNPJQuery{}).
			Where("cnpj = ? AND status = ?", cnpj, entity.StatusQueued).
			Updates(map[string]any{
				"status":     entity.StatusProcessing,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected > 0
		return nil
	})
	return claimed, err
}

// MarkCompleted upserts the company record and flips the job row to
// completed in a single transaction. A unique-constraint violation during
// the upsert means a prior run already persisted this CNPJ, which is
// authoritative: the job still completes.
func (r *DefaultQueryRepository) MarkCompleted(cnpj string, company *entity.Company) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := upsertCompany(tx, company); err != nil {
			if !IsDuplicateKey(err) {
				return err
			}
			log.Warnf("company %s already persisted by a prior run, completing anyway", cnpj)
		}

		return tx.Model(&entity.CNPJQuery{}).
			Where("cnpj = ? AND status = ?", cnpj, entity.StatusProcessing).
			Updates(map[string]any{
				"status":        entity.StatusCompleted,
				"error_message": "",
				"updated_at":    time.Now(),
			}).Error
	})
}

func (r *DefaultQueryRepository) MarkError(cnpj, message string) error {
	return r.markTerminal(cnpj, entity.StatusError, message)
}

func (r *DefaultQueryRepository) MarkRateLimited(cnpj, message string) error {
	return r.markTerminal(cnpj, entity.StatusRateLimited, message)
}

func (r *DefaultQueryRepository) markTerminal(cnpj string, status entity.QueryStatus, message string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Model(&entity.CNPJQuery{}).
			Where("cnpj = ? AND status = ?", cnpj, entity.StatusProcessing).
			Updates(map[string]any{
				"status":        status,
				"error_message": message,
				"updated_at":    time.Now(),
			}).Error
	})
}

// RequeueForRetry sends a processing row back to queued and bumps its retry
// counter. Returns the new retry count.
func (r *DefaultQueryRepository) RequeueForRetry(cnpj string) (int, error) {
	count := 0
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entity.CNPJQuery{}).
			Where("cnpj = ? AND status = ?", cnpj, entity.StatusProcessing).
			Updates(map[string]any{
				"status":      entity.StatusQueued,
				"retry_count": gorm.Expr("retry_count + 1"),
				"updated_at":  time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}

		var latest entity.CNPJQuery
		err := tx.Where("cnpj = ?", cnpj).
			Order("created_at DESC, id DESC").
			First(&latest).Error
		if err != nil {
			return err
		}
		count = latest.RetryCount
		return nil
	})
	return count, err
}

// RequeueRateLimited flips every rate_limited row back to queued. Admin
// restart uses it to resume work that exhausted the provider pool.
func (r *DefaultQueryRepository) RequeueRateLimited() (int64, error) {
	var affected int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entity.CNPJQuery{}).
			Where("status = ?", entity.StatusRateLimited).
			Updates(map[string]any{
				"status":        entity.StatusQueued,
				"error_message": "",
				"updated_at":    time.Now(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// ResetStuck rescues processing rows whose updated_at is older than the
// threshold, flipping them back to queued. Returns the affected CNPJs so
// the queue can re-admit them to memory.
func (r *DefaultQueryRepository) ResetStuck(threshold time.Duration) ([]string, error) {
	var cnpjs []string
	err := r.db.Transaction(func(tx *gorm.DB) error {
		cutoff := time.Now().Add(-threshold)

		var stuck []entity.CNPJQuery
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ? AND updated_at < ?", entity.StatusProcessing, cutoff).
			Find(&stuck).Error
		if err != nil {
			return err
		}
		if len(stuck) == 0 {
			return nil
		}

		ids := make([]uint, len(stuck))
		for i, row := range stuck {
			ids[i] = row.ID
			cnpjs = append(cnpjs, row.CNPJ)
		}

		return tx.Model(&entity.CNPJQuery{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     entity.StatusQueued,
				"updated_at": time.Now(),
			}).Error
	})
	return cnpjs, err
}

// LoadPending returns the oldest queued CNPJs, deduplicated, oldest first.
// Dedupe and limit happen in SQL so a large backlog is never read whole.
// limit <= 0 loads everything.
func (r *DefaultQueryRepository) LoadPending(limit int) ([]string, error) {
	q := r.db.Model(&entity.CNPJQuery{}).
		Where("status = ?", entity.StatusQueued).
		Group("cnpj").
		Order("MIN(created_at) ASC, MIN(id) ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var cnpjs []string
	if err := q.Pluck("cnpj", &cnpjs).Error; err != nil {
		return nil, err
	}
	return cnpjs, nil
}

func (r *DefaultQueryRepository) LatestByCNPJ(cnpj string) (*entity.CNPJQuery, error) {
	var latest entity.CNPJQuery
	err := r.db.Where("cnpj = ?", cnpj).
		Order("created_at DESC, id DESC").
		First(&latest).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &latest, nil
}

// CountByStatus aggregates job counts for all statuses in one query.
func (r *DefaultQueryRepository) CountByStatus() (map[entity.QueryStatus]int64, error) {
	type row struct {
		Status entity.QueryStatus
		Total  int64
	}

	var rows []row
	err := r.db.Model(&entity.CNPJQuery{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[entity.QueryStatus]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Total
	}
	return counts, nil
}

// ListRecent returns the most recently touched rows, newest first.
func (r *DefaultQueryRepository) ListRecent(limit int) ([]entity.CNPJQuery, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []entity.CNPJQuery
	err := r.db.Order("updated_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// RemoveDuplicateQueries keeps only the newest row per CNPJ. Running it
// twice in a row removes zero rows the second time.
func (r *DefaultQueryRepository) RemoveDuplicateQueries() (int64, error) {
	res := r.db.Exec(`DELETE FROM cnpj_queries
		WHERE id NOT IN (SELECT MAX(id) FROM cnpj_queries GROUP BY cnpj)`)
	return res.RowsAffected, res.Error
}
