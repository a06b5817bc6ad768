package controllers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/maogitmao/billions-dollars/config"
	"github.com/maogitmao/billions-dollars/middleware"
)

// AdminTokenTTL is how long an admin session token stays valid.
const AdminTokenTTL = 24 * time.Hour

// AuthController handles admin authentication
type AuthController struct {
	cfg     *config.Config
	limiter *middleware.RateLimiter
}

// NewAuthController creates a new auth controller
func NewAuthController(cfg *config.Config, limiter *middleware.RateLimiter) *AuthController {
	return &AuthController{cfg: cfg, limiter: limiter}
}

// Login verifies admin credentials and issues a session token
// POST /api/v1/auth/login
func (ac *AuthController) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	if ac.cfg.AdminPasswordHash == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "login_disabled",
			"message": "ADMIN_PASSWORD_HASH is not configured",
		})
		return
	}

	ip := c.ClientIP()
	err := bcrypt.CompareHashAndPassword([]byte(ac.cfg.AdminPasswordHash), []byte(req.Password))
	if req.Username != ac.cfg.AdminUser || err != nil {
		ac.limiter.RecordAttempt(ip, false)
		log.Printf("[Auth] failed login for %q from %s", req.Username, ip)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := middleware.GenerateAdminToken(ac.cfg.JWTSecret, req.Username, AdminTokenTTL)
	if err != nil {
		log.Printf("[Auth] token generation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	ac.limiter.RecordAttempt(ip, true)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(AdminTokenTTL.Seconds()),
	})
}
