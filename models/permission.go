// File: models/permission.go
package models

// Permission представляет модель права доступа в базе данных.
type Permission struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Name        string `json:"name" gorm:"unique;not null"`
	Description string `json:"description"`
	Category    string `json:"category" gorm:"not null"` // Категория для группировки (e.g., "Ипотека", "Платежи")
}
