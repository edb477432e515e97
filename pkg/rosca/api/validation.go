package api

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	phonePattern  = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	amountPattern = regexp.MustCompile(`^[0-9]{1,18}$`)

	registerOnce sync.Once
)

// NormalizePhone converts Persian and Arabic-Indic digits to ASCII and drops
// spaces, dashes and parentheses.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + (r - '۰'))
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPhone reports whether s is a phone number after normalization.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(NormalizePhone(s))
}

// ValidAmount reports whether s is a positive integer amount.
func ValidAmount(s string) bool {
	if !amountPattern.MatchString(s) {
		return false
	}
	return strings.TrimLeft(s, "0") != ""
}

// RegisterValidators adds the phone and amount tags to gin's validator and
// reports fields by their JSON names.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return ValidPhone(fl.Field().String())
		})
		_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
			return ValidAmount(fl.Field().String())
		})
	})
}
