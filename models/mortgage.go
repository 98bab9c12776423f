// estate-crm/models/mortgage.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// Все денежные суммы в системе храним в тиынах (минимальных единицах валюты),
// тип bigint. Это исключает дрейф округления, характерный для float-полей.
const DefaultCurrency = "KZT"

// Mortgage описывает ипотечный договор.
// DownPaymentPaid обновляется только движком сверки, всегда через атомарный инкремент.
type Mortgage struct {
	gorm.Model
	ContractNumber  string     `json:"contractNumber" gorm:"column:contract_number;uniqueIndex;not null"`
	BorrowerID      uint       `json:"borrowerId" gorm:"column:borrower_id;index;not null"`
	Borrower        *User      `json:"borrower,omitempty" gorm:"foreignKey:BorrowerID"`
	PropertyID      uint       `json:"propertyId" gorm:"column:property_id;index;not null"`
	Property        *Property  `json:"property,omitempty" gorm:"foreignKey:PropertyID"`
	PrincipalAmount int64      `json:"principalAmount" gorm:"column:principal_amount;not null"`
	DownPayment     int64      `json:"downPayment" gorm:"column:down_payment;not null"`
	DownPaymentPaid int64      `json:"downPaymentPaid" gorm:"column:down_payment_paid;not null;default:0"`
	SignedAt        *time.Time `json:"signedAt,omitempty" gorm:"column:signed_at"`
	Comment         string     `json:"comment" gorm:"column:comment"`
}

func (Mortgage) TableName() string { return "mortgages" }
