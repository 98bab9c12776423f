package services

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"estate-crm/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T, name string) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{},
		&models.Property{},
		&models.Mortgage{},
		&models.DownpaymentPlan{},
		&models.Installment{},
		&models.Payment{},
		&models.PaymentTransaction{},
		&models.PlanTemplate{},
		&models.TemplateInstallment{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedMortgage(t *testing.T, db *gorm.DB, contract string, downPayment int64) (*models.Mortgage, *models.User) {
	user := models.User{Login: contract + "-borrower", Password: "hash", FullName: "Тестовый Заёмщик"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	property := models.Property{Address: "г. Алматы, ул. Абая 1", CadastralNumber: contract + "-cad"}
	if err := db.Create(&property).Error; err != nil {
		t.Fatalf("seed property: %v", err)
	}
	mortgage := models.Mortgage{
		ContractNumber:  contract,
		BorrowerID:      user.ID,
		PropertyID:      property.ID,
		PrincipalAmount: downPayment * 5,
		DownPayment:     downPayment,
	}
	if err := db.Create(&mortgage).Error; err != nil {
		t.Fatalf("seed mortgage: %v", err)
	}
	return &mortgage, &user
}

func TestCreatePlanRounding(t *testing.T) {
	db := setupTestDB(t, t.Name())
	builder := NewPlanBuilder(db)
	mortgage, _ := seedMortgage(t, db, "DOG-001", 100)

	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	plan, err := builder.CreatePlan(CreatePlanInput{
		MortgageID:       mortgage.ID,
		TotalAmount:      100,
		InstallmentCount: 3,
		StartDate:        start,
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}

	if plan.Status != models.PlanStatusActive {
		t.Fatalf("expected ACTIVE plan, got %s", plan.Status)
	}
	if plan.Frequency != models.FrequencyMonthly {
		t.Fatalf("expected MONTHLY frequency, got %s", plan.Frequency)
	}
	if len(plan.Installments) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(plan.Installments))
	}

	want := []int64{34, 33, 33}
	var sum int64
	for i, inst := range plan.Installments {
		if inst.AmountDue != want[i] {
			t.Fatalf("installment %d: expected amount %d, got %d", i+1, want[i], inst.AmountDue)
		}
		if inst.Sequence != i+1 {
			t.Fatalf("installment %d: expected sequence %d, got %d", i, i+1, inst.Sequence)
		}
		if inst.Status != models.InstallmentStatusPending {
			t.Fatalf("installment %d: expected PENDING, got %s", i+1, inst.Status)
		}
		expectedDue := start.AddDate(0, i+1, 0)
		if !inst.DueDate.Equal(expectedDue) {
			t.Fatalf("installment %d: expected due date %v, got %v", i+1, expectedDue, inst.DueDate)
		}
		sum += inst.AmountDue
	}
	if sum != 100 {
		t.Fatalf("installment amounts must sum to total: got %d", sum)
	}
}

func TestCreatePlanSingleInstallment(t *testing.T) {
	db := setupTestDB(t, t.Name())
	builder := NewPlanBuilder(db)
	mortgage, _ := seedMortgage(t, db, "DOG-002", 500000)

	plan, err := builder.CreatePlan(CreatePlanInput{
		MortgageID:       mortgage.ID,
		TotalAmount:      500000,
		InstallmentCount: 1,
		StartDate:        time.Now(),
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if plan.Status != models.PlanStatusPending {
		t.Fatalf("single-installment plan must start PENDING, got %s", plan.Status)
	}
	if plan.Frequency != models.FrequencyOneTime {
		t.Fatalf("expected ONE_TIME frequency, got %s", plan.Frequency)
	}
	if plan.Installments[0].AmountDue != 500000 {
		t.Fatalf("expected full amount in single installment, got %d", plan.Installments[0].AmountDue)
	}
}

func TestCreatePlanDuplicate(t *testing.T) {
	db := setupTestDB(t, t.Name())
	builder := NewPlanBuilder(db)
	mortgage, _ := seedMortgage(t, db, "DOG-003", 1000)

	in := CreatePlanInput{MortgageID: mortgage.ID, TotalAmount: 1000, InstallmentCount: 2, StartDate: time.Now()}
	if _, err := builder.CreatePlan(in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := builder.CreatePlan(in); !errors.Is(err, ErrPlanExists) {
		t.Fatalf("expected ErrPlanExists, got %v", err)
	}
}

func TestCreatePlanDuplicateBypassingFastPath(t *testing.T) {
	db := setupTestDB(t, t.Name())
	builder := NewPlanBuilder(db)
	mortgage, _ := seedMortgage(t, db, "DOG-011", 1000)

	in := CreatePlanInput{MortgageID: mortgage.ID, TotalAmount: 1000, InstallmentCount: 2, StartDate: time.Now()}
	if _, err := builder.CreatePlan(in); err != nil {
		t.Fatalf("first create: %v", err)
	}

	// Конкурентный запрос, успевший пройти проверку existing == 0 до чужого
	// INSERT, должен упереться в уникальный индекс на mortgage_id.
	_, err := builder.persistPlan(mortgage.ID, 1000, models.FrequencyMonthly, time.Now(), []int64{500, 500}, nil)
	if !errors.Is(err, ErrPlanExists) {
		t.Fatalf("expected ErrPlanExists from unique index, got %v", err)
	}

	var planCount int64
	if err := db.Model(&models.DownpaymentPlan{}).Where("mortgage_id = ?", mortgage.ID).Count(&planCount).Error; err != nil {
		t.Fatalf("count plans: %v", err)
	}
	if planCount != 1 {
		t.Fatalf("expected exactly 1 plan per mortgage, got %d", planCount)
	}
}

func TestCreatePlanInvalidInput(t *testing.T) {
	db := setupTestDB(t, t.Name())
	builder := NewPlanBuilder(db)
	mortgage, _ := seedMortgage(t, db, "DOG-004", 1000)

	if _, err := builder.CreatePlan(CreatePlanInput{MortgageID: mortgage.ID, TotalAmount: 1000, InstallmentCount: 0, StartDate: time.Now()}); !errors.Is(err, ErrInvalidPlanInput) {
		t.Fatalf("zero count: expected ErrInvalidPlanInput, got %v", err)
	}
	if _, err := builder.CreatePlan(CreatePlanInput{MortgageID: mortgage.ID, TotalAmount: 0, InstallmentCount: 3, StartDate: time.Now()}); !errors.Is(err, ErrInvalidPlanInput) {
		t.Fatalf("zero total: expected ErrInvalidPlanInput, got %v", err)
	}
	if _, err := builder.CreatePlan(CreatePlanInput{MortgageID: 99999, TotalAmount: 1000, InstallmentCount: 3, StartDate: time.Now()}); !errors.Is(err, ErrMortgageNotFound) {
		t.Fatalf("missing mortgage: expected ErrMortgageNotFound, got %v", err)
	}
}

func TestCreatePlanFromTemplate(t *testing.T) {
	db := setupTestDB(t, t.Name())
	builder := NewPlanBuilder(db)
	mortgage, _ := seedMortgage(t, db, "DOG-005", 1000001)

	template := models.PlanTemplate{
		Name: "50/50 с отсрочкой",
		Installments: []models.TemplateInstallment{
			{MonthOffset: 1, Formula: "Взнос * 0.5"},
			{MonthOffset: 3, Formula: "Взнос * 0.5"},
		},
	}
	if err := db.Create(&template).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	plan, err := builder.CreatePlanFromTemplate(mortgage.ID, template.ID, start)
	if err != nil {
		t.Fatalf("create from template: %v", err)
	}

	if len(plan.Installments) != 2 {
		t.Fatalf("expected 2 installments, got %d", len(plan.Installments))
	}
	var sum int64
	for _, inst := range plan.Installments {
		sum += inst.AmountDue
	}
	if sum != mortgage.DownPayment {
		t.Fatalf("template amounts must sum to down payment %d, got %d", mortgage.DownPayment, sum)
	}
	if !plan.Installments[0].DueDate.Equal(start.AddDate(0, 1, 0)) {
		t.Fatalf("first installment due date: got %v", plan.Installments[0].DueDate)
	}
	if !plan.Installments[1].DueDate.Equal(start.AddDate(0, 3, 0)) {
		t.Fatalf("second installment due date: got %v", plan.Installments[1].DueDate)
	}
}

func TestCreatePlanFromTemplateMismatch(t *testing.T) {
	db := setupTestDB(t, t.Name())
	builder := NewPlanBuilder(db)
	mortgage, _ := seedMortgage(t, db, "DOG-006", 1000000)

	template := models.PlanTemplate{
		Name: "неполный шаблон",
		Installments: []models.TemplateInstallment{
			{MonthOffset: 1, Formula: "Взнос * 0.1"},
		},
	}
	if err := db.Create(&template).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}

	if _, err := builder.CreatePlanFromTemplate(mortgage.ID, template.ID, time.Now()); !errors.Is(err, ErrTemplateMismatch) {
		t.Fatalf("expected ErrTemplateMismatch, got %v", err)
	}
}

func TestGetPlanByMortgageAbsent(t *testing.T) {
	db := setupTestDB(t, t.Name())
	builder := NewPlanBuilder(db)
	mortgage, _ := seedMortgage(t, db, "DOG-007", 1000)

	plan, err := builder.GetPlanByMortgage(mortgage.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if plan != nil {
		t.Fatalf("expected nil plan for mortgage without plan, got %+v", plan)
	}
}
