package sqlite

import (
	"path/filepath"
	"strings"
	"time"

	"cnpjconsulta/cmd/internal/domain/entity"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Init opens the database pointed to by databaseURL. A postgres:// or
// postgresql:// URL selects the postgres driver (Heroku-style deployments);
// anything else is treated as a sqlite file path, defaulting to ./database.db.
func Init(databaseURL string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	sqliteMode := false

	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		dialector = postgres.Open(databaseURL)
	case databaseURL != "":
		dialector = sqlite.Open(databaseURL)
		sqliteMode = true
	default:
		dialector = sqlite.Open(filepath.Join(".", "database.db"))
		sqliteMode = true
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(&entity.CNPJQuery{}, &entity.Company{}, &entity.CompanyPartner{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if sqliteMode {
		// sqlite is a single-writer database
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}
