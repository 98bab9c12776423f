// estate-crm/models/property.go
package models

import "gorm.io/gorm"

// Property описывает объект недвижимости, под который оформлена ипотека.
// CRUD по объектам ведётся во внешней системе, здесь храним минимум для связей.
type Property struct {
	gorm.Model
	Address         string  `json:"address" gorm:"not null"`
	CadastralNumber string  `json:"cadastralNumber" gorm:"uniqueIndex"`
	AreaSqm         float64 `json:"areaSqm"`
}

func (Property) TableName() string { return "properties" }
