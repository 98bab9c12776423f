// estate-crm/internal/services/reconciliation.go
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"estate-crm/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTransactionNotFound = errors.New("transaction_not_found")
	ErrInvalidAmount       = errors.New("invalid_payment_amount")
)

// ReconcileStatus - исход сверки одной транзакции.
type ReconcileStatus string

const (
	ReconcileStatusReconciled       ReconcileStatus = "RECONCILED"
	ReconcileStatusUnmatched        ReconcileStatus = "UNMATCHED"
	ReconcileStatusAlreadyProcessed ReconcileStatus = "ALREADY_PROCESSED"
)

// ReconcileResult - результат вызова Reconcile.
type ReconcileResult struct {
	Status          ReconcileStatus  `json:"status"`
	AppliedAmount   int64            `json:"appliedAmount"`
	LeftoverAmount  int64            `json:"leftoverAmount"`
	Payments        []models.Payment `json:"payments"`
	UnmatchedReason string           `json:"unmatchedReason,omitempty"`
}

// ReconciliationEngine идемпотентно применяет входящие платёжные события
// к плану первоначального взноса плательщика.
//
// Гарантии: деньги применяются ровно один раз при at-least-once доставке
// событий; распределения по одному плану сериализуются пессимистичной
// блокировкой строк (план, затем транши по sequence), планы разных ипотек
// друг друга не блокируют; любая ошибка внутри транзакции откатывает всё -
// частично обновлённого состояния не бывает, транзакция остаётся PENDING
// и её можно доставить повторно.
type ReconciliationEngine struct {
	DB *gorm.DB
}

func NewReconciliationEngine(db *gorm.DB) *ReconciliationEngine {
	return &ReconciliationEngine{DB: db}
}

// Reconcile обрабатывает одну входящую транзакцию по её ID.
func (e *ReconciliationEngine) Reconcile(ctx context.Context, transactionID uint) (*ReconcileResult, error) {
	db := e.DB.WithContext(ctx)

	var trx models.PaymentTransaction
	if err := db.First(&trx, transactionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	// Шлюз проверяет сумму на входе, но движок не доверяет этому:
	// запись с неположительной суммой не должна превратиться в Payment.
	if trx.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	// Быстрая проверка идемпотентности вне блокировок. Это оптимизация,
	// а не гарантия корректности: гарантию даёт повторная проверка под
	// блокировкой плюс уникальный индекс на provider_reference.
	if trx.Status == models.TransactionStatusReconciled {
		return e.alreadyProcessed(db, &trx)
	}
	var existing models.Payment
	err := db.Where("provider_reference = ?", trx.ProviderReference).First(&existing).Error
	if err == nil {
		if markErr := e.markReconciledTx(db, &trx); markErr != nil {
			return nil, markErr
		}
		return &ReconcileResult{Status: ReconcileStatusAlreadyProcessed, Payments: []models.Payment{existing}}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Разрешаем плательщика. Нет пользователя - деньги не трогаем.
	var payer models.User
	if err := db.First(&payer, trx.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return e.routeUnmatched(db, &trx, "плательщик не найден")
		}
		return nil, err
	}

	if trx.Currency != "" && trx.Currency != models.DefaultCurrency {
		return e.routeUnmatched(db, &trx, "валюта транзакции не поддерживается")
	}

	// Ищем план плательщика: сначала ACTIVE, затем одиночные PENDING,
	// в обоих случаях самый ранний по дате создания.
	plan, err := e.resolvePlan(db, payer.ID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return e.routeUnmatched(db, &trx, "у плательщика нет активного плана")
	}

	result := &ReconcileResult{Status: ReconcileStatusReconciled}
	err = db.Transaction(func(tx *gorm.DB) error {
		applied, leftover, payment, already, allocErr := e.allocate(tx, plan.ID, &payer, trx.Amount, trx.ProviderReference)
		if allocErr != nil {
			return allocErr
		}
		if already {
			result.Status = ReconcileStatusAlreadyProcessed
			result.Payments = []models.Payment{*payment}
			return e.markReconciledTx(tx, &trx)
		}
		result.AppliedAmount = applied
		result.LeftoverAmount = leftover
		result.Payments = []models.Payment{*payment}
		return e.markReconciledTx(tx, &trx)
	})
	if err != nil {
		// Транзакция осталась PENDING, событие можно доставить повторно.
		slog.Error("Сверка завершилась ошибкой, выполнен откат", "transaction_id", trx.ID, "error", err)
		return nil, err
	}

	slog.Info("Транзакция сверена",
		"transaction_id", trx.ID,
		"provider_reference", trx.ProviderReference,
		"applied", result.AppliedAmount,
		"leftover", result.LeftoverAmount,
		"status", result.Status)
	return result, nil
}

// RecordPayment - ручная запись платежа по уже известному плану, минуя
// разрешение плательщика. Используется бэк-офисом для кассовых платежей и
// разбора UNMATCHED транзакций. Если reference не передан, генерируется UUID.
func (e *ReconciliationEngine) RecordPayment(ctx context.Context, planID uint, payerID *uint, amount int64, providerReference string) (*models.Payment, *models.DownpaymentPlan, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	db := e.DB.WithContext(ctx)

	var plan models.DownpaymentPlan
	if err := db.First(&plan, planID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrPlanNotFound
		}
		return nil, nil, err
	}

	if providerReference == "" {
		providerReference = "manual-" + uuid.NewString()
	}

	var payer *models.User
	if payerID != nil {
		payer = &models.User{}
		payer.ID = *payerID
	}

	var payment *models.Payment
	err := db.Transaction(func(tx *gorm.DB) error {
		var allocErr error
		_, _, payment, _, allocErr = e.allocate(tx, planID, payer, amount, providerReference)
		return allocErr
	})
	if err != nil {
		return nil, nil, err
	}

	if err := db.First(&plan, planID).Error; err != nil {
		return nil, nil, err
	}
	return payment, &plan, nil
}

// resolvePlan находит план, против которого пойдёт распределение.
func (e *ReconciliationEngine) resolvePlan(db *gorm.DB, payerID uint) (*models.DownpaymentPlan, error) {
	for _, status := range []models.PlanStatus{models.PlanStatusActive, models.PlanStatusPending} {
		var plan models.DownpaymentPlan
		err := db.Joins("JOIN mortgages ON mortgages.id = downpayment_plans.mortgage_id").
			Where("mortgages.borrower_id = ? AND downpayment_plans.status = ?", payerID, status).
			Order("downpayment_plans.created_at ASC").
			First(&plan).Error
		if err == nil {
			return &plan, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// allocate - ядро движка. Выполняется строго внутри транзакции tx.
//
// Порядок блокировок фиксированный (план, затем транши по sequence),
// поэтому два воркера на одном плане не взаимоувязываются в deadlock,
// а воркеры на разных планах вообще не конкурируют. Повторная проверка
// идемпотентности выполняется уже под блокировкой плана: это закрывает
// гонку между быстрой проверкой и взятием блокировки.
func (e *ReconciliationEngine) allocate(tx *gorm.DB, planID uint, payer *models.User, amount int64, providerReference string) (applied, leftover int64, payment *models.Payment, alreadyProcessed bool, err error) {
	// Блокируем строку плана - она сериализует и распределение, и
	// зачисление излишка, даже когда неоплаченных траншей уже нет.
	var plan models.DownpaymentPlan
	if err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&plan, planID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrPlanNotFound
		}
		return
	}

	// Повторная проверка идемпотентности под блокировкой.
	var existing models.Payment
	findErr := tx.Where("provider_reference = ?", providerReference).First(&existing).Error
	if findErr == nil {
		return 0, 0, &existing, true, nil
	}
	if !errors.Is(findErr, gorm.ErrRecordNotFound) {
		err = findErr
		return
	}

	// Блокируем недоплаченные транши в порядке распределения.
	var installments []models.Installment
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plan_id = ? AND amount_paid < amount_due", planID).
		Order("sequence ASC").
		Find(&installments).Error
	if err != nil {
		return
	}

	remaining := amount
	now := time.Now()
	var firstTouched *uint
	for i := range installments {
		if remaining == 0 {
			break
		}
		inst := &installments[i]
		due := inst.AmountDue - inst.AmountPaid
		apply := due
		if remaining < due {
			apply = remaining
		}
		if apply <= 0 {
			continue
		}

		inst.AmountPaid += apply
		remaining -= apply
		updates := map[string]interface{}{
			"amount_paid": inst.AmountPaid,
			"status":      models.InstallmentStatusPartial,
		}
		if inst.AmountPaid >= inst.AmountDue {
			updates["status"] = models.InstallmentStatusPaid
			updates["paid_at"] = now
		}
		if err = tx.Model(inst).Updates(updates).Error; err != nil {
			return
		}
		if firstTouched == nil {
			id := inst.ID
			firstTouched = &id
		}
	}

	// Ровно одна запись Payment на транзакцию, с полной входящей суммой.
	// Уникальный индекс на provider_reference - последний рубеж защиты от
	// двойного применения: конкурирующая вставка провалит всю транзакцию.
	newPayment := models.Payment{
		PlanID:            planID,
		InstallmentID:     firstTouched,
		Amount:            amount,
		ProviderReference: providerReference,
		Status:            models.PaymentStatusCompleted,
	}
	if payer != nil {
		id := payer.ID
		newPayment.PayerID = &id
	}
	if err = tx.Create(&newPayment).Error; err != nil {
		return
	}

	applied = amount - remaining
	leftover = remaining

	// Излишек не выбрасываем, а копим на плане.
	if leftover > 0 {
		if err = tx.Model(&plan).Update("unapplied_balance", gorm.Expr("unapplied_balance + ?", leftover)).Error; err != nil {
			return
		}
	}

	// Агрегаты только инкрементируем, никогда не пересчитываем с нуля.
	if applied > 0 {
		if err = tx.Model(&plan).Update("paid_total", gorm.Expr("paid_total + ?", applied)).Error; err != nil {
			return
		}
		if err = tx.Model(&models.Mortgage{}).Where("id = ?", plan.MortgageID).
			Update("down_payment_paid", gorm.Expr("down_payment_paid + ?", applied)).Error; err != nil {
			return
		}
	}

	// Пересчёт "все ли транши оплачены" безопасно повторять сколько угодно раз,
	// а переходы статуса плана идут только вперёд.
	var unpaid int64
	if err = tx.Model(&models.Installment{}).
		Where("plan_id = ? AND amount_paid < amount_due", planID).
		Count(&unpaid).Error; err != nil {
		return
	}
	if unpaid == 0 {
		if err = tx.Model(&plan).Update("status", models.PlanStatusCompleted).Error; err != nil {
			return
		}
	} else if plan.Status == models.PlanStatusPending && applied > 0 {
		if err = tx.Model(&plan).Update("status", models.PlanStatusActive).Error; err != nil {
			return
		}
	}

	payment = &newPayment
	return
}

// routeUnmatched помечает транзакцию как нераспознанную. Деньги не тронуты,
// дальше её разбирают вручную через RecordPayment.
func (e *ReconciliationEngine) routeUnmatched(db *gorm.DB, trx *models.PaymentTransaction, reason string) (*ReconcileResult, error) {
	err := db.Model(trx).Updates(map[string]interface{}{
		"status":         models.TransactionStatusUnmatched,
		"failure_reason": reason,
	}).Error
	if err != nil {
		return nil, err
	}
	slog.Warn("Транзакция не сопоставлена", "transaction_id", trx.ID, "reason", reason)
	return &ReconcileResult{Status: ReconcileStatusUnmatched, UnmatchedReason: reason}, nil
}

func (e *ReconciliationEngine) alreadyProcessed(db *gorm.DB, trx *models.PaymentTransaction) (*ReconcileResult, error) {
	var payments []models.Payment
	if err := db.Where("provider_reference = ?", trx.ProviderReference).Find(&payments).Error; err != nil {
		return nil, err
	}
	return &ReconcileResult{Status: ReconcileStatusAlreadyProcessed, Payments: payments}, nil
}

func (e *ReconciliationEngine) markReconciledTx(tx *gorm.DB, trx *models.PaymentTransaction) error {
	now := time.Now()
	return tx.Model(trx).Updates(map[string]interface{}{
		"status":        models.TransactionStatusReconciled,
		"reconciled_at": now,
	}).Error
}
