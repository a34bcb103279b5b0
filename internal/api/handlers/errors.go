package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat_web/internal/service"
)

// statusFor 將服務層錯誤對應到 HTTP 狀態碼
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidRoom), errors.Is(err, service.ErrUnknownRoom):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidArgument), errors.Is(err, service.ErrInvalidContentType):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrStorageFailure), errors.Is(err, service.ErrCapacityExceeded),
		errors.Is(err, service.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError 統一的錯誤回應格式 {"error": code, "message": text}
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   service.ErrorCode(err),
		"message": message,
	})
}
