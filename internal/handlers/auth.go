package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/consult-signaling/internal/middleware"
	"github.com/rs/zerolog/log"
)

const tokenTTL = 24 * time.Hour

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the bearer token for the patient-record route.
type LoginResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login issues a clinician token. Credentials are not checked against a
// directory: any non-blank username is accepted.
func Login(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		clinician := strings.TrimSpace(req.Username)
		if clinician == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Username required"})
			return
		}

		expires := time.Now().Add(tokenTTL)
		token, err := middleware.IssueToken(clinician, jwtSecret, tokenTTL)
		if err != nil {
			log.Error().Err(err).Str("user_id", clinician).Msg("Failed to sign clinician token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		log.Debug().Str("user_id", clinician).Msg("Clinician logged in")
		c.JSON(http.StatusOK, LoginResponse{
			Token:     token,
			UserID:    clinician,
			ExpiresAt: expires.UTC().Truncate(time.Second),
		})
	}
}
