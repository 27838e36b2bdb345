package database

import (
	"fmt"

	"github.com/yeremiapane/table-order/models"
	"github.com/yeremiapane/table-order/utils"
	"gorm.io/gorm"
)

// Models lists every persisted model in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.Table{},
		&models.AccessToken{},
		&models.Session{},
		&models.Product{},
		&models.Order{},
		&models.OrderLine{},
		&models.OrderStatusLog{},
	}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	utils.InfoLogger.Println("AutoMigrate completed.")

	return nil
}
