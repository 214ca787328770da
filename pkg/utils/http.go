package utils

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"salonhub-backend/internal/errors"
)

// SendErrorResponse sends a standardized error response
func SendErrorResponse(c *gin.Context, statusCode int, appErr *errors.AppError) {
	if appErr == nil {
		appErr = &errors.AppError{Code: "UNKNOWN_ERROR", Message: "An unexpected error occurred"}
	}

	c.JSON(statusCode, gin.H{
		"error":   appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
	})

	if statusCode >= http.StatusInternalServerError {
		extras := map[string]interface{}{
			"status_code": statusCode,
			"error_code":  appErr.Code,
			"details":     appErr.Details,
		}
		if c != nil && c.FullPath() != "" {
			extras["route"] = c.FullPath()
		}
		CaptureSentryError(c, appErr.Err, fmt.Sprintf("SendErrorResponse:%s", appErr.Code), extras)
	}
}

// RespondWithError maps a billing-core error to the matching HTTP status,
// distinguishing "not allowed in this state" from system errors.
func RespondWithError(c *gin.Context, err error) {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		SendErrorResponse(c, http.StatusInternalServerError,
			errors.Wrap(err, "INTERNAL_ERROR", "An unexpected error occurred"))
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case errors.CodeInvalidTransition:
		status = http.StatusConflict
	case errors.CodeJobAlreadyRunning:
		status = http.StatusConflict
	case errors.CodeConcurrencyConflict:
		status = http.StatusConflict
	case errors.CodeUnknownJob, errors.CodeNotFound:
		status = http.StatusNotFound
	case "VALIDATION_FAILED":
		status = http.StatusBadRequest
	}
	SendErrorResponse(c, status, appErr)
}

// HandleError logs an error with context
func HandleError(err error, context string) {
	if err != nil {
		log.Printf("Error in %s: %v", context, err)
	}
}
