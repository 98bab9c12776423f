// estate-crm/models/plan.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// PlanStatus представляет статус плана первоначального взноса.
type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "PENDING"
	PlanStatusActive    PlanStatus = "ACTIVE"
	PlanStatusCompleted PlanStatus = "COMPLETED"
)

// PlanFrequency - периодичность траншей.
type PlanFrequency string

const (
	FrequencyOneTime PlanFrequency = "ONE_TIME"
	FrequencyMonthly PlanFrequency = "MONTHLY"
)

// DownpaymentPlan - график погашения первоначального взноса по ипотеке.
// Создаётся один раз на ипотеку, после создания мутируется только движком сверки.
// План никогда не удаляется, только переходит в COMPLETED.
type DownpaymentPlan struct {
	gorm.Model
	MortgageID       uint          `json:"mortgageId" gorm:"column:mortgage_id;uniqueIndex;not null"`
	Mortgage         *Mortgage     `json:"-" gorm:"foreignKey:MortgageID"`
	TotalAmount      int64         `json:"totalAmount" gorm:"column:total_amount;not null"`
	InstallmentCount int           `json:"installmentCount" gorm:"column:installment_count;not null"`
	Frequency        PlanFrequency `json:"frequency" gorm:"column:frequency;type:varchar(20);not null;default:'MONTHLY'"`
	StartDate        time.Time     `json:"startDate" gorm:"column:start_date;not null"`
	Status           PlanStatus    `json:"status" gorm:"column:status;type:varchar(20);not null;default:'PENDING';index"`

	// PaidTotal и UnappliedBalance только инкрементируются, никогда не пересчитываются
	// с нуля - это защищает от гонок с конкурентными читателями.
	PaidTotal        int64 `json:"paidTotal" gorm:"column:paid_total;not null;default:0"`
	UnappliedBalance int64 `json:"unappliedBalance" gorm:"column:unapplied_balance;not null;default:0"`

	Installments []Installment `json:"installments,omitempty" gorm:"foreignKey:PlanID"`
}

func (DownpaymentPlan) TableName() string { return "downpayment_plans" }

// InstallmentStatus - статус отдельного транша.
type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "PENDING"
	InstallmentStatusPartial InstallmentStatus = "PARTIAL"
	InstallmentStatusPaid    InstallmentStatus = "PAID"
)

// Installment - один транш в графике. Sequence (с единицы) задаёт порядок
// распределения платежей. AmountDue неизменяема после создания; AmountPaid
// монотонно растёт и всегда остаётся в пределах [0, AmountDue].
type Installment struct {
	gorm.Model
	PlanID     uint              `json:"planId" gorm:"column:plan_id;index;not null"`
	Sequence   int               `json:"sequence" gorm:"column:sequence;not null;index:idx_installments_plan_seq,priority:2"`
	DueDate    time.Time         `json:"dueDate" gorm:"column:due_date;not null"`
	AmountDue  int64             `json:"amountDue" gorm:"column:amount_due;not null"`
	AmountPaid int64             `json:"amountPaid" gorm:"column:amount_paid;not null;default:0"`
	Status     InstallmentStatus `json:"status" gorm:"column:status;type:varchar(20);not null;default:'PENDING'"`
	PaidAt     *time.Time        `json:"paidAt,omitempty" gorm:"column:paid_at"`
}

func (Installment) TableName() string { return "installments" }

// Remaining возвращает недоплаченный остаток транша.
func (i *Installment) Remaining() int64 {
	return i.AmountDue - i.AmountPaid
}
