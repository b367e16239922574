package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/sponsor/internal/models"
)

// mysqlKeyCollation makes MySQL compare param keys byte for byte. The default
// utf8mb4 collations fold case and ignore trailing spaces.
const mysqlKeyCollation = "utf8mb4_bin"

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.ParamEntry{},
		&models.SystemSetting{},
		&models.AuditLog{},
	); err != nil {
		return err
	}

	for _, stmt := range paramKeyFixups(db.Dialector.Name()) {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("param key column: %w", err)
		}
	}
	return nil
}

// paramKeyFixups returns the statements that make the param key column
// compare exactly on dialect. SQLite and PostgreSQL already do.
func paramKeyFixups(dialect string) []string {
	switch dialect {
	case "mysql":
		return []string{fmt.Sprintf(
			"ALTER TABLE param_entries MODIFY `key` VARCHAR(%d) CHARACTER SET utf8mb4 COLLATE %s NOT NULL",
			models.MaxParamKeyBytes, mysqlKeyCollation,
		)}
	default:
		return nil
	}
}
