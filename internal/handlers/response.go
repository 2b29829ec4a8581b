package handlers

import "github.com/gin-gonic/gin"

// Error codes surfaced to the admin UI and the reader app.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeAlreadyProcessing = "ALREADY_PROCESSING"
	CodeAlreadyReady      = "ALREADY_PROCESSED"
	CodeFileNotFound      = "FILE_NOT_FOUND"
	CodeRateLimited       = "RATE_LIMITED"
	CodeUpstream          = "UPSTREAM_UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Code: code, Message: message}})
}

func RespondOK(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}
