package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a parsed page/limit query.
type Page struct {
	Page  int
	Limit int
}

// Offset is the number of rows to skip.
func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Pagination describes the page returned to the client.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// Paginate builds the pagination block for total rows.
func (p Page) Paginate(total int64) Pagination {
	return Pagination{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(p.Limit))),
	}
}

// ParsePage reads page and limit from the query string. page defaults to 1,
// limit to 20 and is capped at 100. Out of range values are rejected.
func ParsePage(c *gin.Context) (Page, bool) {
	p := Page{Page: 1, Limit: DefaultPageSize}
	if s := c.Query("page"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			BadRequest(c, CodeValidation, "page must be a positive integer")
			return p, false
		}
		p.Page = v
	}
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > MaxPageSize {
			BadRequest(c, CodeValidation, "limit must be between 1 and 100")
			return p, false
		}
		p.Limit = v
	}
	return p, true
}

// ParseID reads a UUID path parameter. Anything that is not a UUID cannot
// match a row, so it is reported as not found.
func ParseID(c *gin.Context, name, notFound string) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		NotFound(c, notFound)
		return "", false
	}
	return id, true
}

// FieldError is one failed field in a validation response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Bind decodes the JSON body into req and writes a validation error when it
// does not parse or validate.
func Bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]FieldError, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
			}
			Error(c, http.StatusBadRequest, CodeValidation, "Invalid request", details)
			return false
		}
		Error(c, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "phone":
		return "must be a valid phone number"
	case "amount":
		return "must be a positive whole number"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "uuid":
		return "must be a valid id"
	default:
		return "is invalid"
	}
}
