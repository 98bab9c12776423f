// estate-crm/internal/handlers/report_handler.go
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"estate-crm/config"
	"estate-crm/models"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// DebtorResponse - строка отчёта по просроченным траншам.
type DebtorResponse struct {
	MortgageID     uint   `json:"mortgageId"`
	ContractNumber string `json:"contractNumber"`
	BorrowerName   string `json:"borrowerName"`
	OverdueAmount  int64  `json:"overdueAmount"`
	OverdueCount   int64  `json:"overdueCount"`
	Comment        string `json:"comment"`
}

// ListDebtorsHandler возвращает список должников: ипотеки, у которых есть
// просроченные недоплаченные транши первоначального взноса.
func ListDebtorsHandler(c *gin.Context) {
	var debtors []DebtorResponse
	var totalRows int64

	overdue := func() *gorm.DB {
		return config.DB.Table("installments i").
			Joins("JOIN downpayment_plans p ON p.id = i.plan_id").
			Joins("JOIN mortgages m ON m.id = p.mortgage_id").
			Joins("JOIN users u ON u.id = m.borrower_id").
			Where("i.amount_paid < i.amount_due").
			Where("i.due_date < ?", time.Now()).
			Where("i.deleted_at IS NULL AND m.deleted_at IS NULL")
	}

	if err := overdue().Distinct("m.id").Count(&totalRows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count debtors"})
		return
	}

	query := overdue().
		Select(`m.id as mortgage_id,
            m.contract_number,
            u.full_name as borrower_name,
            SUM(i.amount_due - i.amount_paid) as overdue_amount,
            COUNT(i.id) as overdue_count,
            m.comment`).
		Group("m.id, m.contract_number, u.full_name, m.comment").
		Order("overdue_amount DESC").
		Scopes(Paginate(c))

	if err := query.Scan(&debtors).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch debtors"})
		return
	}

	if debtors == nil {
		debtors = make([]DebtorResponse, 0)
	}

	c.JSON(http.StatusOK, CreatePaginatedResponse(c, debtors, totalRows))
}

// UpdateMortgageCommentHandler обновляет комментарий к ипотеке
// (пометки менеджера по работе с должником).
func UpdateMortgageCommentHandler(c *gin.Context) {
	mortgageID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid mortgage ID"})
		return
	}

	var input struct {
		Comment string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := config.DB.Model(&models.Mortgage{}).Where("id = ?", mortgageID).Update("comment", input.Comment)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update comment"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Mortgage not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Comment updated successfully"})
}

// paymentExportRow - строка экспорта платежей.
type paymentExportRow struct {
	ContractNumber    string    `json:"contractNumber"`
	BorrowerName      string    `json:"borrowerName"`
	Amount            int64     `json:"amount"`
	ProviderReference string    `json:"providerReference"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ExportPaymentsHandler выгружает платежи в Excel.
func ExportPaymentsHandler(c *gin.Context) {
	var rows []paymentExportRow

	query := config.DB.Table("payments pay").
		Select(`m.contract_number,
			u.full_name as borrower_name,
			pay.amount,
			pay.provider_reference,
			pay.status,
			pay.created_at`).
		Joins("JOIN downpayment_plans p ON p.id = pay.plan_id").
		Joins("JOIN mortgages m ON m.id = p.mortgage_id").
		Joins("JOIN users u ON u.id = m.borrower_id").
		Where("pay.deleted_at IS NULL").
		Order("pay.created_at DESC")

	if dateFrom := c.Query("date_from"); dateFrom != "" {
		query = query.Where("pay.created_at >= ?", dateFrom)
	}
	if dateTo := c.Query("date_to"); dateTo != "" {
		query = query.Where("pay.created_at <= ?", dateTo)
	}
	if contractNumber := c.Query("contract_number"); contractNumber != "" {
		query = query.Where("m.contract_number = ?", contractNumber)
	}

	if err := query.Scan(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch data for export"})
		return
	}

	f := excelize.NewFile()
	sheetName := "Платежи"
	index, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(index)

	headers := []string{"Номер договора", "Заёмщик", "Сумма (тг)", "Референс", "Статус", "Дата"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}

	for i, p := range rows {
		row := i + 2
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), p.ContractNumber)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), p.BorrowerName)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), float64(p.Amount)/100)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), p.ProviderReference)
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), p.Status)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), p.CreatedAt.Format("02.01.2006 15:04"))
	}

	fileName := fmt.Sprintf("payments_%s.xlsx", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+fileName)
	if err := f.Write(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write Excel file"})
	}
}
