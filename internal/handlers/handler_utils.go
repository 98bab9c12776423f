package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// parseIDParam - вспомогательная функция для извлечения числового параметра пути.
// При некорректном значении сама отвечает 400 и возвращает false.
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Некорректный ID в пути запроса"})
		return 0, false
	}
	return uint(id), true
}
