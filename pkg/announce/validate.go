package announce

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samvad-hq/helpline-relay/internal/domain"
	"github.com/samvad-hq/helpline-relay/pkg/phone"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phone.IsValid(fl.Field().String())
	})
	return v
}

// check runs the required-field and phone contract over one record. The first
// violation in field order wins, so missing fields are reported before phones.
func (c *Client) check(index int, r domain.CanonicalRecord) error {
	err := c.validate.Struct(r)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Index: index, Field: "record", Value: r, Reason: err}
	}

	fe := fieldErrs[0]
	field := fe.Field()
	if i := strings.IndexByte(field, '['); i >= 0 {
		field = field[:i]
	}

	reason := ErrMissingField
	if fe.Tag() == "phone" {
		reason = ErrInvalidPhone
	}
	return &ValidationError{Index: index, Field: field, Value: fe.Value(), Reason: reason}
}
