package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/docstream/corpusd/internal/domain"
)

// respondError maps service-layer errors onto HTTP status codes, exposing
// only redacted messages.
func respondError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case domain.ErrorKindValidation:
			c.JSON(http.StatusBadRequest, gin.H{"error": pe.UserMessage()})
		case domain.ErrorKindDuplicate:
			c.JSON(http.StatusConflict, gin.H{"error": pe.UserMessage()})
		case domain.ErrorKindRetryable:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": pe.UserMessage()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": pe.UserMessage()})
		}
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
