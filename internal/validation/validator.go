// Package validation validates request payloads with validator/v10 and turns
// failures into domain validation errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	domainerrors "github.com/grimoireapp/grimoire-server/internal/errors"
)

// Validator wraps go-playground/validator with domain error conversion.
type Validator struct {
	v   *validator.Validate
	now func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the clock used by the notfuture tag.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New creates a validator with the catalog's custom tags registered:
//
//	notblank   string is non-empty after trimming whitespace
//	notfuture  integer year is not after the current year
func New(opts ...Option) *Validator {
	out := &Validator{v: validator.New(), now: time.Now}
	for _, opt := range opts {
		opt(out)
	}

	// Use JSON tag names in error messages
	out.v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	_ = out.v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = out.v.RegisterValidation("notfuture", func(fl validator.FieldLevel) bool {
		return fl.Field().Int() <= int64(out.now().Year())
	})

	return out
}

// Validate validates a struct and returns a domain error. The message names the
// first failing field; Details maps every failing field to its problem.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// Var validates a single value against tag.
func (v *Validator) Var(field string, value any, tag string) error {
	if err := v.v.Var(value, tag); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			msg := field + " " + v.friendlyMessage(validationErrs[0])
			return domainerrors.ValidationWithDetails(msg, map[string]string{field: v.friendlyMessage(validationErrs[0])})
		}
		return err
	}
	return nil
}

func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fieldErrors := make(map[string]string, len(validationErrs))
	fields := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		if _, seen := fieldErrors[e.Field()]; !seen {
			fields = append(fields, e.Field())
		}
		fieldErrors[e.Field()] = v.friendlyMessage(e)
	}
	slices.Sort(fields)

	msg := fields[0] + " " + fieldErrors[fields[0]]
	return domainerrors.ValidationWithDetails(msg, fieldErrors)
}

//nolint:gocyclo // one case per supported tag
func (v *Validator) friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "notblank":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", e.Param())
		}
		return "must be at least " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("must not exceed %s characters", e.Param())
		}
		return "must not exceed " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "notfuture":
		return "must not be in the future"
	default:
		return "is invalid"
	}
}
