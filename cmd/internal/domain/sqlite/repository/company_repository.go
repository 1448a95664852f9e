package repository

import (
	"errors"
	"strings"

	"cnpjconsulta/cmd/internal/domain/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DefaultCompanyRepository struct {
	db *gorm.DB
}

func NewCompanyRepository(db *gorm.DB) *DefaultCompanyRepository {
	return &DefaultCompanyRepository{db: db}
}

func (r *DefaultCompanyRepository) FindByCNPJ(cnpj string) (*entity.Company, error) {
	var company entity.Company
	err := r.db.
		Preload("Partners").
		Where("cnpj = ?", cnpj).
		First(&company).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *DefaultCompanyRepository) Save(company *entity.Company) error {
	return upsertCompany(r.db, company)
}

// RemoveDuplicatePartners keeps the newest partner row per (cnpj, name)
// pair. The unique index normally prevents duplicates; this is the
// administrative sweep for rows created before the index existed.
func (r *DefaultCompanyRepository) RemoveDuplicatePartners() (int64, error) {
	res := r.db.Exec(`DELETE FROM company_partners
		WHERE id NOT IN (SELECT MAX(id) FROM company_partners GROUP BY company_cnpj, name)`)
	return res.RowsAffected, res.Error
}

// upsertCompany writes the normalized record keyed by CNPJ, replacing the
// partner list wholesale. It runs against whatever handle it is given so
// callers can embed it in a wider transaction.
func upsertCompany(db *gorm.DB, company *entity.Company) error {
	partners := company.Partners
	company.Partners = nil
	defer func() { company.Partners = partners }()

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cnpj"}},
		UpdateAll: true,
	}).Create(company).Error
	if err != nil {
		return err
	}

	err = db.Where("company_cnpj = ?", company.CNPJ).Delete(&entity.CompanyPartner{}).Error
	if err != nil {
		return err
	}

	for _, p := range partners {
		p.ID = 0
		p.CompanyCNPJ = company.CNPJ
		if err := db.Create(p).Error; err != nil {
			return err
		}
	}
	return nil
}

// IsDuplicateKey classifies unique-constraint violations. A duplicate
// company row means a previous run already enriched this CNPJ, which the
// queue treats as success.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
