// estate-crm/internal/handlers/auth_handler.go
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"estate-crm/config"
	"estate-crm/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type LoginInput struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginHandler проверяет учётные данные и выдает JWT (cookie + тело ответа).
func LoginHandler(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Не указаны логин или пароль"})
		return
	}

	var user models.User
	if err := config.DB.Where("login = ?", input.Login).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверный логин или пароль"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверный логин или пароль"})
		return
	}

	claims := jwt.MapClaims{
		"user_id": user.ID,
		"login":   user.Login,
		"exp":     time.Now().Add(12 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(config.JwtKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось создать токен"})
		return
	}

	c.SetCookie("auth_token", tokenStr, int((12 * time.Hour).Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"token": tokenStr, "userId": user.ID, "fullName": user.FullName})
}

// LogoutHandler сбрасывает cookie и чистит кэш данных пользователя.
func LogoutHandler(c *gin.Context) {
	if userID, exists := c.Get("user_id"); exists && config.RDB != nil {
		config.RDB.Del(config.Ctx, fmt.Sprintf("user:%d:data", userID))
	}
	c.SetCookie("auth_token", "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Вы вышли из системы"})
}

// GetProfileHandler возвращает данные текущего авторизованного пользователя.
// Права уже загружены middleware в контекст, лишних запросов не делаем.
func GetProfileHandler(c *gin.Context) {
	userIDVal, _ := c.Get("user_id")
	loginVal, _ := c.Get("login")
	rolesVal, _ := c.Get("roles")
	permissionsVal, _ := c.Get("permissions")

	userID, _ := userIDVal.(uint)
	login, _ := loginVal.(string)
	roles, _ := rolesVal.([]string)
	permissions, _ := permissionsVal.([]string)

	var userDetails models.User
	if err := config.DB.Select("full_name", "email", "phone", "iin", "photo_url").First(&userDetails, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User details not found in DB"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          userID,
		"login":       login,
		"fullName":    userDetails.FullName,
		"email":       userDetails.Email,
		"phone":       userDetails.Phone,
		"iin":         userDetails.IIN,
		"photoUrl":    userDetails.PhotoURL,
		"roles":       roles,
		"permissions": permissions,
	})
}
