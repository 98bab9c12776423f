// estate-crm/internal/services/plan_builder.go
package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	"estate-crm/models"

	"github.com/Knetic/govaluate"
	"gorm.io/gorm"
)

var (
	ErrMortgageNotFound = errors.New("mortgage_not_found")
	ErrPlanNotFound     = errors.New("plan_not_found")
	ErrPlanExists       = errors.New("plan_already_exists")
	ErrInvalidPlanInput = errors.New("invalid_plan_input")
	ErrTemplateNotFound = errors.New("template_not_found")
	ErrTemplateMismatch = errors.New("template_amounts_mismatch")
)

// PlanBuilder создаёт план первоначального взноса и его транши.
type PlanBuilder struct {
	DB *gorm.DB
}

func NewPlanBuilder(db *gorm.DB) *PlanBuilder { return &PlanBuilder{DB: db} }

// CreatePlanInput - параметры создания плана. Суммы в тиынах.
type CreatePlanInput struct {
	MortgageID       uint
	TotalAmount      int64
	InstallmentCount int
	Frequency        models.PlanFrequency
	StartDate        time.Time
}

// CreatePlan разбивает сумму на равные транши. Остаток от деления целиком
// уходит в первый транш, поэтому сумма траншей всегда равна TotalAmount
// тиын в тиын. Даты: i-й транш должен быть оплачен через i календарных
// месяцев после StartDate, без поправок на рабочие дни.
func (b *PlanBuilder) CreatePlan(in CreatePlanInput) (*models.DownpaymentPlan, error) {
	if in.InstallmentCount < 1 || in.TotalAmount <= 0 {
		return nil, ErrInvalidPlanInput
	}

	var mortgage models.Mortgage
	if err := b.DB.First(&mortgage, in.MortgageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMortgageNotFound
		}
		return nil, err
	}

	// На одну ипотеку - один план.
	var existing int64
	if err := b.DB.Model(&models.DownpaymentPlan{}).Where("mortgage_id = ?", in.MortgageID).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, ErrPlanExists
	}

	amounts := splitEqually(in.TotalAmount, in.InstallmentCount)
	return b.persistPlan(mortgage.ID, in.TotalAmount, in.Frequency, in.StartDate, amounts, nil)
}

// CreatePlanFromTemplate строит план по именованному шаблону: сумма каждого
// транша вычисляется формулой шаблона над параметрами ипотеки.
func (b *PlanBuilder) CreatePlanFromTemplate(mortgageID, templateID uint, startDate time.Time) (*models.DownpaymentPlan, error) {
	var mortgage models.Mortgage
	if err := b.DB.First(&mortgage, mortgageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMortgageNotFound
		}
		return nil, err
	}

	var existing int64
	if err := b.DB.Model(&models.DownpaymentPlan{}).Where("mortgage_id = ?", mortgageID).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, ErrPlanExists
	}

	var template models.PlanTemplate
	if err := b.DB.Preload("Installments").First(&template, templateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	if len(template.Installments) == 0 {
		return nil, ErrTemplateMismatch
	}

	// Параметры формул. Формулы оперируют тиынами, результат округляем до целого.
	parameters := make(map[string]interface{})
	parameters["Взнос"] = float64(mortgage.DownPayment)
	parameters["Сумма"] = float64(mortgage.PrincipalAmount)

	amounts := make([]int64, 0, len(template.Installments))
	offsets := make([]int, 0, len(template.Installments))
	var sum int64
	for _, installment := range template.Installments {
		expression, err := govaluate.NewEvaluableExpression(installment.Formula)
		if err != nil {
			return nil, fmt.Errorf("ошибка в формуле '%s': %w", installment.Formula, err)
		}
		result, err := expression.Evaluate(parameters)
		if err != nil {
			return nil, fmt.Errorf("не удалось вычислить формулу '%s': %w", installment.Formula, err)
		}
		value, ok := result.(float64)
		if !ok {
			return nil, ErrTemplateMismatch
		}
		amount := int64(math.Round(value))
		amounts = append(amounts, amount)
		offsets = append(offsets, installment.MonthOffset)
		sum += amount
	}

	// Допускаем только погрешность округления: не больше тиына на транш.
	remainder := mortgage.DownPayment - sum
	if remainder < -int64(len(amounts)) || remainder > int64(len(amounts)) {
		return nil, ErrTemplateMismatch
	}
	amounts[0] += remainder

	return b.persistPlan(mortgage.ID, mortgage.DownPayment, models.FrequencyMonthly, startDate, amounts, offsets)
}

// persistPlan атомарно записывает план и все его транши.
// offsets == nil означает равномерный месячный график: транш i через i месяцев.
func (b *PlanBuilder) persistPlan(mortgageID uint, total int64, frequency models.PlanFrequency, startDate time.Time, amounts []int64, offsets []int) (*models.DownpaymentPlan, error) {
	count := len(amounts)

	status := models.PlanStatusPending
	if count > 1 {
		status = models.PlanStatusActive
	}
	if frequency == "" {
		frequency = models.FrequencyMonthly
		if count == 1 {
			frequency = models.FrequencyOneTime
		}
	}

	plan := models.DownpaymentPlan{
		MortgageID:       mortgageID,
		TotalAmount:      total,
		InstallmentCount: count,
		Frequency:        frequency,
		StartDate:        startDate,
		Status:           status,
	}

	err := b.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&plan).Error; err != nil {
			return err
		}
		installments := make([]models.Installment, 0, count)
		for i, amount := range amounts {
			offset := i + 1
			if offsets != nil {
				offset = offsets[i]
			}
			installments = append(installments, models.Installment{
				PlanID:    plan.ID,
				Sequence:  i + 1,
				DueDate:   startDate.AddDate(0, offset, 0),
				AmountDue: amount,
				Status:    models.InstallmentStatusPending,
			})
		}
		if err := tx.Create(&installments).Error; err != nil {
			return err
		}
		plan.Installments = installments
		return nil
	})
	if err != nil {
		// Проверка existing > 0 выше - только быстрый путь: два конкурентных
		// запроса могут пройти её одновременно. Гарантию "один план
		// на ипотеку" даёт уникальный индекс на mortgage_id.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrPlanExists
		}
		return nil, err
	}
	return &plan, nil
}

// GetPlan возвращает план с траншами в порядке распределения.
func (b *PlanBuilder) GetPlan(planID uint) (*models.DownpaymentPlan, error) {
	var plan models.DownpaymentPlan
	err := b.DB.Preload("Installments", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence ASC")
	}).First(&plan, planID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// GetPlanByMortgage возвращает план ипотеки или nil, если план ещё не создан.
func (b *PlanBuilder) GetPlanByMortgage(mortgageID uint) (*models.DownpaymentPlan, error) {
	var plan models.DownpaymentPlan
	err := b.DB.Preload("Installments", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence ASC")
	}).Where("mortgage_id = ?", mortgageID).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

// splitEqually делит сумму на count равных долей, усечённых до тиына.
// Весь остаток от деления прибавляется к первой доле.
func splitEqually(total int64, count int) []int64 {
	share := total / int64(count)
	remainder := total - share*int64(count)
	amounts := make([]int64, count)
	for i := range amounts {
		amounts[i] = share
	}
	amounts[0] += remainder
	return amounts
}
