// estate-crm/models/transaction.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// TransactionStatus - статус входящей платёжной транзакции.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusReconciled TransactionStatus = "RECONCILED"
	TransactionStatusUnmatched  TransactionStatus = "UNMATCHED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
)

// PaymentTransaction представляет входящее платёжное событие от провайдера
// (вебхук или списание с кошелька). Движок сверки потребляет уже разрешённые
// записи: подписи и протокол провайдера проверяются до попадания сюда.
//
// Переходы статусов: PENDING -> RECONCILED (успех или идемпотентный повтор),
// PENDING -> UNMATCHED (не найден плательщик или активный план, требует
// ручного разбора), PENDING -> FAILED (исчерпаны повторы обработки).
// Ошибка обработки оставляет PENDING - событие можно доставить повторно.
type PaymentTransaction struct {
	gorm.Model
	Provider          string            `json:"provider" gorm:"column:provider;not null"`
	ProviderReference string            `json:"providerReference" gorm:"column:provider_reference;uniqueIndex;not null"`
	UserID            uint              `json:"userId" gorm:"column:user_id;index"`
	Amount            int64             `json:"amount" gorm:"column:amount;not null"`
	Currency          string            `json:"currency" gorm:"column:currency;type:varchar(3);not null;default:'KZT'"`
	Status            TransactionStatus `json:"status" gorm:"column:status;type:varchar(20);not null;default:'PENDING';index"`
	ReconciledAt      *time.Time        `json:"reconciledAt,omitempty" gorm:"column:reconciled_at"`
	FailureReason     string            `json:"failureReason" gorm:"column:failure_reason"`
}

func (PaymentTransaction) TableName() string { return "transactions" }
