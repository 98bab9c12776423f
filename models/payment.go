// estate-crm/models/payment.go
package models

import "gorm.io/gorm"

// PaymentStatus - статус записи о платеже.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Payment - неизменяемая запись об успешно применённом платеже.
// Одна строка на одну входящую транзакцию: Amount хранит полную входящую сумму,
// InstallmentID указывает на первый затронутый транш. ProviderReference -
// ключ идемпотентности, уникальный индекс на нём закрывает гонку двух
// одновременных доставок одного и того же платёжного события.
type Payment struct {
	gorm.Model
	PlanID            uint          `json:"planId" gorm:"column:plan_id;index;not null"`
	InstallmentID     *uint         `json:"installmentId,omitempty" gorm:"column:installment_id"`
	PayerID           *uint         `json:"payerId,omitempty" gorm:"column:payer_id;index"`
	Amount            int64         `json:"amount" gorm:"column:amount;not null"`
	ProviderReference string        `json:"providerReference" gorm:"column:provider_reference;uniqueIndex;not null"`
	Status            PaymentStatus `json:"status" gorm:"column:status;type:varchar(20);not null;default:'PENDING'"`
}

func (Payment) TableName() string { return "payments" }
