package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"diary-bot/internal/config"
	"diary-bot/internal/logger"
	"diary-bot/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type AuthHandler struct{ cfg config.AdminConfig }

func NewAuthHandler(cfg config.AdminConfig) *AuthHandler { return &AuthHandler{cfg: cfg} }

func (h *AuthHandler) checkPassword(password string) bool {
	if h.cfg.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(h.cfg.PasswordHash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(h.cfg.Password), []byte(password)) == 1
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if req.Username != h.cfg.Username || !h.checkPassword(req.Password) {
		logger.Warn("login.failed", "username", req.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "wrong username or password"})
		return
	}

	logger.Info("login.ok", "name", req.Username)

	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"name": req.Username,
		"exp":  time.Now().Add(7 * 24 * time.Hour).Unix(),
	}).SignedString([]byte(h.cfg.JWTSecret))

	c.JSON(http.StatusOK, model.LoginResponse{
		Token: token,
		User:  model.User{Name: req.Username, Role: "admin"},
	})
}
