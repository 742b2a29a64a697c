package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// paramsValidator returns the shared validator. Field names in errors use
// the json tag.
func paramsValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		v.RegisterStructValidation(func(sl validator.StructLevel) {
			p := sl.Current().Interface().(RequestParams)
			if p.UnitMin != nil && p.UnitMax != nil && *p.UnitMin > *p.UnitMax {
				sl.ReportError(p.UnitMax, "unit_max", "UnitMax", "gtefield", "unit_min")
			}
		}, RequestParams{})
		validate = v
	})
	return validate
}

// Validate checks p and reports every invalid field in one error.
func (p RequestParams) Validate() error {
	err := paramsValidator().Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return eris.Wrap(err, "request: validate")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return eris.Errorf("request: invalid parameters: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "len":
		return fmt.Sprintf("%s must be %s characters", fe.Field(), fe.Param())
	case "alpha":
		return fmt.Sprintf("%s must contain only letters", fe.Field())
	case "required":
		return fmt.Sprintf("%s must not be empty", fe.Field())
	case "gtefield":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
