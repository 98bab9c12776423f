package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"estate-crm/models"

	"gorm.io/gorm"
)

// seedPlan создаёт заёмщика, ипотеку и план из трёх траншей по 100 тиын.
func seedPlan(t *testing.T, db *gorm.DB, contract string) (*models.DownpaymentPlan, *models.Mortgage, *models.User) {
	mortgage, user := seedMortgage(t, db, contract, 300)
	builder := NewPlanBuilder(db)
	plan, err := builder.CreatePlan(CreatePlanInput{
		MortgageID:       mortgage.ID,
		TotalAmount:      300,
		InstallmentCount: 3,
		StartDate:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	return plan, mortgage, user
}

func seedTransaction(t *testing.T, db *gorm.DB, userID uint, amount int64, reference string) *models.PaymentTransaction {
	trx := models.PaymentTransaction{
		Provider:          "kaspi",
		ProviderReference: reference,
		UserID:            userID,
		Amount:            amount,
		Currency:          models.DefaultCurrency,
		Status:            models.TransactionStatusPending,
	}
	if err := db.Create(&trx).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return &trx
}

func loadInstallments(t *testing.T, db *gorm.DB, planID uint) []models.Installment {
	var installments []models.Installment
	if err := db.Where("plan_id = ?", planID).Order("sequence ASC").Find(&installments).Error; err != nil {
		t.Fatalf("load installments: %v", err)
	}
	return installments
}

func TestReconcileSequentialAllocation(t *testing.T) {
	db := setupTestDB(t, t.Name())
	engine := NewReconciliationEngine(db)
	plan, mortgage, user := seedPlan(t, db, "REC-001")
	trx := seedTransaction(t, db, user.ID, 150, "kaspi-150")

	result, err := engine.Reconcile(context.Background(), trx.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Status != ReconcileStatusReconciled {
		t.Fatalf("expected RECONCILED, got %s", result.Status)
	}
	if result.AppliedAmount != 150 || result.LeftoverAmount != 0 {
		t.Fatalf("expected applied=150 leftover=0, got applied=%d leftover=%d", result.AppliedAmount, result.LeftoverAmount)
	}

	installments := loadInstallments(t, db, plan.ID)
	if installments[0].Status != models.InstallmentStatusPaid || installments[0].AmountPaid != 100 {
		t.Fatalf("installment 1: expected PAID/100, got %s/%d", installments[0].Status, installments[0].AmountPaid)
	}
	if installments[0].PaidAt == nil {
		t.Fatalf("installment 1: expected paid_at to be set")
	}
	if installments[1].Status != models.InstallmentStatusPartial || installments[1].AmountPaid != 50 {
		t.Fatalf("installment 2: expected PARTIAL/50, got %s/%d", installments[1].Status, installments[1].AmountPaid)
	}
	if installments[2].Status != models.InstallmentStatusPending || installments[2].AmountPaid != 0 {
		t.Fatalf("installment 3: expected PENDING/0, got %s/%d", installments[2].Status, installments[2].AmountPaid)
	}

	var freshPlan models.DownpaymentPlan
	if err := db.First(&freshPlan, plan.ID).Error; err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	if freshPlan.PaidTotal != 150 || freshPlan.Status != models.PlanStatusActive {
		t.Fatalf("expected plan paid_total=150 ACTIVE, got %d %s", freshPlan.PaidTotal, freshPlan.Status)
	}

	var freshMortgage models.Mortgage
	if err := db.First(&freshMortgage, mortgage.ID).Error; err != nil {
		t.Fatalf("reload mortgage: %v", err)
	}
	if freshMortgage.DownPaymentPaid != 150 {
		t.Fatalf("expected mortgage down_payment_paid=150, got %d", freshMortgage.DownPaymentPaid)
	}

	var freshTrx models.PaymentTransaction
	if err := db.First(&freshTrx, trx.ID).Error; err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if freshTrx.Status != models.TransactionStatusReconciled || freshTrx.ReconciledAt == nil {
		t.Fatalf("expected RECONCILED with reconciled_at, got %s", freshTrx.Status)
	}

	// Одна запись Payment на транзакцию, с полной суммой и ссылкой на первый транш.
	var payments []models.Payment
	if err := db.Where("plan_id = ?", plan.ID).Find(&payments).Error; err != nil {
		t.Fatalf("load payments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("expected 1 payment, got %d", len(payments))
	}
	if payments[0].Amount != 150 || payments[0].ProviderReference != "kaspi-150" {
		t.Fatalf("payment: expected amount=150 ref=kaspi-150, got %d %s", payments[0].Amount, payments[0].ProviderReference)
	}
	if payments[0].InstallmentID == nil || *payments[0].InstallmentID != installments[0].ID {
		t.Fatalf("payment must reference first touched installment")
	}
}

func TestReconcileOverpayment(t *testing.T) {
	db := setupTestDB(t, t.Name())
	engine := NewReconciliationEngine(db)
	plan, _, user := seedPlan(t, db, "REC-002")
	trx := seedTransaction(t, db, user.ID, 350, "kaspi-350")

	result, err := engine.Reconcile(context.Background(), trx.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.AppliedAmount != 300 || result.LeftoverAmount != 50 {
		t.Fatalf("expected applied=300 leftover=50, got %d/%d", result.AppliedAmount, result.LeftoverAmount)
	}

	for _, inst := range loadInstallments(t, db, plan.ID) {
		if inst.Status != models.InstallmentStatusPaid {
			t.Fatalf("installment %d: expected PAID, got %s", inst.Sequence, inst.Status)
		}
	}

	var freshPlan models.DownpaymentPlan
	if err := db.First(&freshPlan, plan.ID).Error; err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	if freshPlan.Status != models.PlanStatusCompleted {
		t.Fatalf("expected COMPLETED plan, got %s", freshPlan.Status)
	}
	if freshPlan.PaidTotal != 300 || freshPlan.UnappliedBalance != 50 {
		t.Fatalf("expected paid_total=300 unapplied=50, got %d/%d", freshPlan.PaidTotal, freshPlan.UnappliedBalance)
	}
}

func TestReconcileIdempotentReplay(t *testing.T) {
	db := setupTestDB(t, t.Name())
	engine := NewReconciliationEngine(db)
	plan, _, user := seedPlan(t, db, "REC-003")
	trx := seedTransaction(t, db, user.ID, 100, "kaspi-replay")

	if _, err := engine.Reconcile(context.Background(), trx.ID); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	// Повторные доставки того же события не должны менять состояние.
	for i := 0; i < 3; i++ {
		result, err := engine.Reconcile(context.Background(), trx.ID)
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if result.Status != ReconcileStatusAlreadyProcessed {
			t.Fatalf("replay %d: expected ALREADY_PROCESSED, got %s", i, result.Status)
		}
	}

	var paymentCount int64
	if err := db.Model(&models.Payment{}).Where("plan_id = ?", plan.ID).Count(&paymentCount).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if paymentCount != 1 {
		t.Fatalf("replay must not create payments: expected 1, got %d", paymentCount)
	}

	var freshPlan models.DownpaymentPlan
	if err := db.First(&freshPlan, plan.ID).Error; err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	if freshPlan.PaidTotal != 100 {
		t.Fatalf("replay must not change paid_total: expected 100, got %d", freshPlan.PaidTotal)
	}
}

func TestReconcileConcurrentReplay(t *testing.T) {
	db := setupTestDB(t, t.Name())
	engine := NewReconciliationEngine(db)
	plan, _, user := seedPlan(t, db, "REC-012")
	trx := seedTransaction(t, db, user.ID, 150, "kaspi-concurrent")

	// Одно и то же событие доставляется нескольким воркерам одновременно.
	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	statuses := make([]ReconcileStatus, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := engine.Reconcile(context.Background(), trx.ID)
			errs[i] = err
			if err == nil {
				statuses[i] = result.Status
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if statuses[i] != ReconcileStatusReconciled && statuses[i] != ReconcileStatusAlreadyProcessed {
			t.Fatalf("worker %d: unexpected status %s", i, statuses[i])
		}
	}

	// Деньги применены ровно один раз.
	var paymentCount int64
	if err := db.Model(&models.Payment{}).Where("provider_reference = ?", "kaspi-concurrent").Count(&paymentCount).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if paymentCount != 1 {
		t.Fatalf("expected exactly 1 payment, got %d", paymentCount)
	}

	installments := loadInstallments(t, db, plan.ID)
	wantPaid := []int64{100, 50, 0}
	for i, inst := range installments {
		if inst.AmountPaid != wantPaid[i] {
			t.Fatalf("installment %d: expected amount_paid=%d, got %d", i+1, wantPaid[i], inst.AmountPaid)
		}
	}

	var freshPlan models.DownpaymentPlan
	if err := db.First(&freshPlan, plan.ID).Error; err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	if freshPlan.PaidTotal != 150 || freshPlan.UnappliedBalance != 0 {
		t.Fatalf("expected paid_total=150 unapplied=0, got %d/%d", freshPlan.PaidTotal, freshPlan.UnappliedBalance)
	}
}

func TestReconcileRejectsNonPositiveAmount(t *testing.T) {
	db := setupTestDB(t, t.Name())
	engine := NewReconciliationEngine(db)
	plan, _, user := seedPlan(t, db, "REC-013")

	for i, amount := range []int64{0, -50} {
		trx := models.PaymentTransaction{
			Provider:          "kaspi",
			ProviderReference: fmt.Sprintf("kaspi-bad-%d", i),
			UserID:            user.ID,
			Amount:            amount,
			Currency:          models.DefaultCurrency,
			Status:            models.TransactionStatusPending,
		}
		if err := db.Create(&trx).Error; err != nil {
			t.Fatalf("seed transaction: %v", err)
		}

		if _, err := engine.Reconcile(context.Background(), trx.ID); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}

		var fresh models.PaymentTransaction
		if err := db.First(&fresh, trx.ID).Error; err != nil {
			t.Fatalf("reload transaction: %v", err)
		}
		if fresh.Status != models.TransactionStatusPending {
			t.Fatalf("amount %d: transaction must stay PENDING, got %s", amount, fresh.Status)
		}
	}

	var paymentCount int64
	if err := db.Model(&models.Payment{}).Where("plan_id = ?", plan.ID).Count(&paymentCount).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if paymentCount != 0 {
		t.Fatalf("non-positive amounts must not create payments, got %d", paymentCount)
	}
}

func TestReconcileCompletionSurvivesReplay(t *testing.T) {
	db := setupTestDB(t, t.Name())
	engine := NewReconciliationEngine(db)
	plan, _, user := seedPlan(t, db, "REC-011")
	trx := seedTransaction(t, db, user.ID, 300, "kaspi-final")

	if _, err := engine.Reconcile(context.Background(), trx.ID); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	// Дубликат закрывающего платежа не должен сбить COMPLETED и агрегаты.
	result, err := engine.Reconcile(context.Background(), trx.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Status != ReconcileStatusAlreadyProcessed {
		t.Fatalf("expected ALREADY_PROCESSED, got %s", result.Status)
	}

	var freshPlan models.DownpaymentPlan
	if err := db.First(&freshPlan, plan.ID).Error; err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	if freshPlan.Status != models.PlanStatusCompleted {
		t.Fatalf("expected COMPLETED after replay, got %s", freshPlan.Status)
	}
	if freshPlan.PaidTotal != 300 || freshPlan.UnappliedBalance != 0 {
		t.Fatalf("replay must not change aggregates: paid_total=%d unapplied=%d", freshPlan.PaidTotal, freshPlan.UnappliedBalance)
	}
}

func TestReconcileUnmatchedUnknownPayer(t *testing.T) {
	db := setupTestDB(t, t.Name())
	engine := NewReconciliationEngine(db)
	plan, _, _ := seedPlan(t, db, "REC-004")
	trx := seedTransaction(t, db, 99999, 100, "kaspi-ghost")

	result, err := engine.Reconcile(context.Background(), trx.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Status != ReconcileStatusUnmatched {
		t.Fatalf("expected UNMATCHED, got %s", result.Status)
	}

	// Деньги не тронуты: транши и агрегаты без изменений.
	for _, inst := range loadInstallments(t, db, plan.ID) {
		if inst.AmountPaid != 0 {
			t.Fatalf("unmatched transaction must not touch installments")
		}
	}

	var freshTrx models.PaymentTransaction
	if err := db.First(&freshTrx, trx.ID).Error; err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if freshTrx.Status != models.TransactionStatusUnmatched || freshTrx.FailureReason == "" {
		t.Fatalf("expected UNMATCHED with reason, got %s %q", freshTrx.Status, freshTrx.FailureReason)
	}
}

func TestReconcileUnmatchedNoPlan(t *testing.T) {
	db := setupTestDB(t, t.Name())
	engine := NewReconciliationEngine(db)
	_, user := seedMortgage(t, db, "REC-005", 300)
	trx := seedTransaction(t, db, user.ID, 100, "kaspi-noplan")

	result, err := engine.Reconcile(context.Background(), trx.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Status != ReconcileStatusUnmatched {
		t.Fatalf("expected UNMATCHED, got %s", result.Status)
	}
}

func TestReconcileUnmatchedWrongCurrency(t *testing.T) {
	db := setupTestDB(t, t.Name())
	engine := NewReconciliationEngine(db)
	_, _, user := seedPlan(t, db, "REC-006")

	trx := models.PaymentTransaction{
		Provider:          "swift",
		ProviderReference: "swift-usd",
		UserID:            user.ID,
		Amount:            100,
		Currency:          "USD",
		Status:            models.TransactionStatusPending,
	}
	if err := db.Create(&trx).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	result, err := engine.Reconcile(context.Background(), trx.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Status != ReconcileStatusUnmatched {
		t.Fatalf("expected UNMATCHED for foreign currency, got %s", result.Status)
	}
}

func TestReconcileTransactionNotFound(t *testing.T) {
	db := setupTestDB(t, t.Name())
	engine := NewReconciliationEngine(db)

	if _, err := engine.Reconcile(context.Background(), 99999); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestReconcilePrefersActivePlan(t *testing.T) {
	db := setupTestDB(t, t.Name())
	builder := NewPlanBuilder(db)
	engine := NewReconciliationEngine(db)

	// У заёмщика две ипотеки: одиночный PENDING план и рассрочка ACTIVE.
	user := models.User{Login: "two-plans", Password: "hash"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	property := models.Property{Address: "г. Астана, пр. Туран 5", CadastralNumber: "REC-007-cad"}
	if err := db.Create(&property).Error; err != nil {
		t.Fatalf("seed property: %v", err)
	}

	first := models.Mortgage{ContractNumber: "REC-007-A", BorrowerID: user.ID, PropertyID: property.ID, PrincipalAmount: 1000, DownPayment: 200}
	second := models.Mortgage{ContractNumber: "REC-007-B", BorrowerID: user.ID, PropertyID: property.ID, PrincipalAmount: 1500, DownPayment: 300}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("seed mortgage: %v", err)
	}
	if err := db.Create(&second).Error; err != nil {
		t.Fatalf("seed mortgage: %v", err)
	}

	pendingPlan, err := builder.CreatePlan(CreatePlanInput{MortgageID: first.ID, TotalAmount: 200, InstallmentCount: 1, StartDate: time.Now()})
	if err != nil {
		t.Fatalf("create pending plan: %v", err)
	}
	activePlan, err := builder.CreatePlan(CreatePlanInput{MortgageID: second.ID, TotalAmount: 300, InstallmentCount: 3, StartDate: time.Now()})
	if err != nil {
		t.Fatalf("create active plan: %v", err)
	}

	trx := seedTransaction(t, db, user.ID, 100, "kaspi-active-first")
	if _, err := engine.Reconcile(context.Background(), trx.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var fresh models.DownpaymentPlan
	if err := db.First(&fresh, activePlan.ID).Error; err != nil {
		t.Fatalf("reload active plan: %v", err)
	}
	if fresh.PaidTotal != 100 {
		t.Fatalf("active plan must receive the payment, got paid_total=%d", fresh.PaidTotal)
	}
	fresh = models.DownpaymentPlan{}
	if err := db.First(&fresh, pendingPlan.ID).Error; err != nil {
		t.Fatalf("reload pending plan: %v", err)
	}
	if fresh.PaidTotal != 0 {
		t.Fatalf("pending plan must stay untouched, got paid_total=%d", fresh.PaidTotal)
	}
}

func TestReconcileActivatesPendingPlan(t *testing.T) {
	db := setupTestDB(t, t.Name())
	builder := NewPlanBuilder(db)
	engine := NewReconciliationEngine(db)
	mortgage, user := seedMortgage(t, db, "REC-008", 200)

	plan, err := builder.CreatePlan(CreatePlanInput{MortgageID: mortgage.ID, TotalAmount: 200, InstallmentCount: 1, StartDate: time.Now()})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if plan.Status != models.PlanStatusPending {
		t.Fatalf("precondition: expected PENDING plan")
	}

	trx := seedTransaction(t, db, user.ID, 80, "kaspi-partial")
	if _, err := engine.Reconcile(context.Background(), trx.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var fresh models.DownpaymentPlan
	if err := db.First(&fresh, plan.ID).Error; err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	if fresh.Status != models.PlanStatusActive {
		t.Fatalf("partial payment must activate PENDING plan, got %s", fresh.Status)
	}
}

func TestRecordPaymentManual(t *testing.T) {
	db := setupTestDB(t, t.Name())
	engine := NewReconciliationEngine(db)
	plan, _, user := seedPlan(t, db, "REC-009")

	payment, freshPlan, err := engine.RecordPayment(context.Background(), plan.ID, &user.ID, 100, "")
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if !strings.HasPrefix(payment.ProviderReference, "manual-") {
		t.Fatalf("expected generated manual reference, got %q", payment.ProviderReference)
	}
	if payment.PayerID == nil || *payment.PayerID != user.ID {
		t.Fatalf("expected payer to be recorded")
	}
	if freshPlan.PaidTotal != 100 {
		t.Fatalf("expected paid_total=100, got %d", freshPlan.PaidTotal)
	}
}

func TestRecordPaymentValidation(t *testing.T) {
	db := setupTestDB(t, t.Name())
	engine := NewReconciliationEngine(db)
	plan, _, _ := seedPlan(t, db, "REC-010")

	if _, _, err := engine.RecordPayment(context.Background(), plan.ID, nil, 0, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := engine.RecordPayment(context.Background(), 99999, nil, 100, ""); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("missing plan: expected ErrPlanNotFound, got %v", err)
	}
}
