// Package api holds the JSON envelope, error codes and request helpers shared
// by every HTTP handler.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// Error codes returned in the envelope.
const (
	CodeValidation              = "VALIDATION_ERROR"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeInvalidOTP              = "INVALID_OTP"
	CodeOTPExpired              = "OTP_EXPIRED"
	CodeRateLimited             = "RATE_LIMITED"
	CodeForbidden               = "FORBIDDEN"
	CodeNotFound                = "NOT_FOUND"
	CodeConflict                = "CONFLICT"
	CodeGroupFull               = "GROUP_FULL"
	CodeGroupNotActive          = "GROUP_NOT_ACTIVE"
	CodeInvalidStatus           = "INVALID_STATUS"
	CodeInvalidAmount           = "INVALID_AMOUNT"
	CodeCycleClosed             = "CYCLE_CLOSED"
	CodeNotMember               = "NOT_MEMBER"
	CodeNoOpenCycle             = "NO_OPEN_CYCLE"
	CodeIncompleteContributions = "INCOMPLETE_CONTRIBUTIONS"
	CodeNoEligibleMembers       = "NO_ELIGIBLE_MEMBERS"
	CodeServerError             = "SERVER_ERROR"
)

// Envelope wraps every JSON response.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
	Meta    Meta       `json:"meta"`
}

// ErrorBody is the error part of a failed response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Meta carries response metadata.
type Meta struct {
	Timestamp  time.Time   `json:"timestamp"`
	RequestID  string      `json:"requestId,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// ContextKeyRequestID is where the request ID middleware stores the ID.
const ContextKeyRequestID = "request_id"

func meta(c *gin.Context) Meta {
	return Meta{
		Timestamp: time.Now().UTC(),
		RequestID: c.GetString(ContextKeyRequestID),
	}
}

// Respond writes a successful envelope with the given status.
func Respond(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Success: true, Data: data, Meta: meta(c)})
}

// OK writes a 200 envelope.
func OK(c *gin.Context, data any) {
	Respond(c, http.StatusOK, data)
}

// Created writes a 201 envelope.
func Created(c *gin.Context, data any) {
	Respond(c, http.StatusCreated, data)
}

// List writes a 200 envelope with pagination metadata.
func List(c *gin.Context, data any, p Pagination) {
	m := meta(c)
	m.Pagination = &p
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data, Meta: m})
}

// Error writes a failed envelope and aborts the handler chain.
func Error(c *gin.Context, status int, code, message string, details ...any) {
	body := &ErrorBody{Code: code, Message: message}
	if len(details) > 0 {
		body.Details = details[0]
	}
	c.AbortWithStatusJSON(status, Envelope{Success: false, Error: body, Meta: meta(c)})
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, CodeForbidden, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, CodeNotFound, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, http.StatusConflict, CodeConflict, message)
}

func BadRequest(c *gin.Context, code, message string) {
	Error(c, http.StatusBadRequest, code, message)
}

// ServerError hides err from the client. Callers log it.
func ServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, CodeServerError, "An unexpected error occurred")
}

// FormatAmount renders an integer amount as a decimal string so clients never
// see it as a float.
func FormatAmount(v int64) string {
	return strconv.FormatInt(v, 10)
}

// ParseAmount parses a positive decimal string amount.
func ParseAmount(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, strconv.ErrRange
	}
	return v, nil
}

// UserRef is the public view of a user embedded in other resources.
type UserRef struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone,omitempty"`
}

// NewUserRef converts a user row. It returns nil for a user that was not
// loaded.
func NewUserRef(u models.User) *UserRef {
	if u.ID == "" {
		return nil
	}
	return &UserRef{ID: u.ID, FullName: u.FullName, Phone: u.Phone}
}
