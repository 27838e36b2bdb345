package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type JSONResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  code >= 200 && code < 300,
		Message: message,
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, err error) {
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: err.Error(),
		Data:    nil,
	})
}

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindSession:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// RespondAppError writes err with its mapped status. Internal errors are
// logged in full and answered with a generic message.
func RespondAppError(c *gin.Context, err error) {
	code := StatusFor(err)
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.AbortWithStatusJSON(code, JSONResponse{Status: false, Message: appErr.Message})
		return
	}
	ErrorLogger.WithError(err).WithField("path", c.Request.URL.Path).Error("unexpected error")
	c.AbortWithStatusJSON(code, JSONResponse{Status: false, Message: "internal server error"})
}
