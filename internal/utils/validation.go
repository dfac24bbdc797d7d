package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"medication-adherence-server/internal/apperrors"
	"medication-adherence-server/internal/datetime"
)

var registerOnce sync.Once

// RegisterValidators adds the canonical_date and clock_time tags to gin's
// binding validator and makes errors report JSON field names. Safe to call
// more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			panic(fmt.Sprintf("unexpected binding validator engine %T", binding.Validator.Engine()))
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		mustRegister(v, "canonical_date", func(fl validator.FieldLevel) bool {
			_, err := datetime.NormalizeDate("", fl.Field().String())
			return err == nil
		})
		mustRegister(v, "clock_time", func(fl validator.FieldLevel) bool {
			_, err := datetime.NormalizeTime("", fl.Field().String())
			return err == nil
		})
	})
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validator: %v", tag, err))
	}
}

// Validate performs validation on a struct.
func Validate(s interface{}) error {
	RegisterValidators()
	return binding.Validator.ValidateStruct(s)
}

// FormatValidationError converts validator output into a ValidationError naming
// the first offending field.
func FormatValidationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return apperrors.NewValidationError("", err.Error())
	}
	e := errs[0]
	field := e.Field()
	switch e.Tag() {
	case "required":
		return apperrors.NewValidationError(field, "is required")
	case "canonical_date":
		return apperrors.NewValidationError(field, fmt.Sprintf("invalid date %q: expected YYYY-MM-DD", e.Value()))
	case "clock_time":
		return apperrors.NewValidationError(field, fmt.Sprintf("invalid time %q: expected HH:MM or HH:MM:SS", e.Value()))
	case "oneof":
		return apperrors.NewValidationError(field, "must be one of "+e.Param())
	case "min", "gte", "gt":
		return apperrors.NewValidationError(field, "must be at least "+e.Param())
	case "email":
		return apperrors.NewValidationError(field, "must be a valid email address")
	default:
		return apperrors.NewValidationError(field, "failed the "+e.Tag()+" check")
	}
}

// BindAndValidate binds the request body to a struct and validates it.
// If validation fails, it sends a BadRequest response and returns false.
func BindAndValidate(c *gin.Context, obj interface{}) bool {
	RegisterValidators()
	if err := c.ShouldBindJSON(obj); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			BadRequest(c, FormatValidationError(err).Error())
		} else {
			BadRequest(c, "Invalid request payload: "+err.Error())
		}
		return false
	}
	return true
}

// BindQuery binds and validates query parameters.
func BindQuery(c *gin.Context, obj interface{}) bool {
	RegisterValidators()
	if err := c.ShouldBindQuery(obj); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			BadRequest(c, FormatValidationError(err).Error())
		} else {
			BadRequest(c, "Invalid query: "+err.Error())
		}
		return false
	}
	return true
}
