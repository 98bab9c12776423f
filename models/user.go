// estate-crm/models/user.go
package models

import "gorm.io/gorm"

// User представляет сотрудника бэк-офиса или заёмщика (плательщика).
// Входящие платежи привязываются к пользователю по его ID из внешней системы.
type User struct {
	gorm.Model
	Login    string `json:"login" gorm:"uniqueIndex;not null"`
	Password string `json:"-" gorm:"not null"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	IIN      string `json:"iin" gorm:"index"`
	PhotoURL string `json:"photoUrl"`

	Roles []Role `json:"roles,omitempty" gorm:"many2many:user_roles;"`
}
