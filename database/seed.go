package database

import (
	"github.com/yeremiapane/table-order/models"
	"gorm.io/gorm"
)

// SeedProducts inserts the given products when the catalog is empty. Used by
// `migrate --seed` for local development.
func SeedProducts(db *gorm.DB, products []models.Product) error {
	var count int64
	if err := db.Model(&models.Product{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 || len(products) == 0 {
		return nil
	}
	return db.Create(&products).Error
}

// DemoProducts is the development catalog.
func DemoProducts() []models.Product {
	return []models.Product{
		{Name: "Kimchi Fried Rice", Price: 9.50, Stock: 50, IsActive: true},
		{Name: "Tteokbokki", Price: 7.00, Stock: 40, IsActive: true},
		{Name: "Fried Chicken", Price: 16.00, Stock: 30, IsActive: true},
		{Name: "Soju", Price: 5.00, Stock: 100, IsActive: true},
	}
}
