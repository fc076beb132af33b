package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// adminKey имя администратора из токена в gin.Context
const adminKey = "username"

// bearerToken токен из заголовка "Bearer <token>"
func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{Message: msg})
}

// jwtMiddleware пропускает только запросы с действующим токеном администратора
func (s *AdminServer) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			unauthorized(c, "Отсутствует токен авторизации")
			return
		}
		token, ok := bearerToken(header)
		if !ok {
			unauthorized(c, "Неверный формат токена")
			return
		}
		claims, err := s.tokens.Validate(token)
		if err != nil {
			s.logger.Debug("Отклонён токен от %s: %v", c.ClientIP(), err)
			unauthorized(c, "Недействительный токен")
			return
		}
		c.Set(adminKey, claims.Username)
		c.Next()
	}
}
