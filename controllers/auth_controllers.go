package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-order/middlewares"
	"github.com/yeremiapane/table-order/utils"
	"golang.org/x/crypto/bcrypt"
)

type AuthController struct {
	Issuer  *utils.TokenIssuer
	PinHash string
}

func NewAuthController(issuer *utils.TokenIssuer, pinHash string) *AuthController {
	return &AuthController{Issuer: issuer, PinHash: pinHash}
}

// Login -> exchange the staff PIN for a short-lived JWT
func (ac *AuthController) Login(c *gin.Context) {
	var req struct {
		Pin string `json:"pin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Pin == "" {
		respondError(c, utils.NewValidationError("pin is required"))
		return
	}
	if ac.PinHash == "" {
		respondError(c, utils.NewUnauthorizedError("admin login is disabled"))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(ac.PinHash), []byte(req.Pin)) != nil {
		utils.InfoLogger.WithField("client_ip", c.ClientIP()).Warn("admin login rejected")
		respondError(c, utils.NewUnauthorizedError("invalid pin"))
		return
	}

	token, err := ac.Issuer.GenerateToken("admin", middlewares.RoleAdmin)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Login successful", gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(ac.Issuer.TTL.Seconds()),
	})
}
