package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/mossy-p/consult-signaling/internal/translate"
)

// Translator is the translation provider seen by the API.
type Translator interface {
	Translate(ctx context.Context, text, target, source string) string
	Detect(ctx context.Context, text string) string
}

// Translate translates a chat line or caption. Provider failures return the
// original text.
func Translate(tr Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.TranslateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		if !translate.ValidTarget(req.Target) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported target language"})
			return
		}

		c.JSON(http.StatusOK, models.TranslateResponse{
			Text: tr.Translate(c.Request.Context(), req.Text, req.Target, req.Source),
		})
	}
}

// Detect returns the language code of a text, "auto" when unknown.
func Detect(tr Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.DetectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		c.JSON(http.StatusOK, models.DetectResponse{
			Language: tr.Detect(c.Request.Context(), req.Text),
		})
	}
}

// Languages lists the supported languages.
func Languages(c *gin.Context) {
	c.JSON(http.StatusOK, translate.Languages)
}
