// models/plan_template.go

package models

import "gorm.io/gorm"

// PlanTemplate представляет именованную схему разбивки первоначального взноса.
// Суммы траншей задаются формулами, поэтому один шаблон («30/30/40»,
// «равными долями за полгода» и т.п.) применим к ипотекам с разными суммами.
type PlanTemplate struct {
	gorm.Model
	Name              string                `json:"name" gorm:"uniqueIndex;not null"`
	InstallmentsCount int                   `json:"installments_count"`
	Installments      []TemplateInstallment `json:"installments" gorm:"foreignKey:PlanTemplateID"`
}

// TemplateInstallment представляет отдельный транш в рамках шаблона.
// MonthOffset - сдвиг в месяцах от даты начала плана, Formula - выражение
// govaluate над параметрами «Взнос» и «Сумма».
type TemplateInstallment struct {
	gorm.Model
	PlanTemplateID uint   `json:"plan_template_id"`
	MonthOffset    int    `json:"month_offset"`
	Formula        string `json:"formula"`
}

// TableName задает имя таблицы для GORM.
func (PlanTemplate) TableName() string {
	return "plan_templates"
}

// TableName задает имя таблицы для GORM.
func (TemplateInstallment) TableName() string {
	return "template_installments"
}
