package models

import (
	"errors"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// decimals are compared as floats so gte/gt tags work on them
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func (d DocumentDraft) Validate() error {
	if err := toValidationError(validate.Struct(d)); err != nil {
		return err
	}
	if !d.Type.IsValid() {
		return &ValidationError{Message: "invalid document type", Fields: map[string]string{"DocumentDraft.Type": "oneof"}}
	}
	if d.Status != "" && !d.Type.ValidStatus(d.Status) {
		return &ValidationError{Message: "invalid status for " + d.Type.Label(), Fields: map[string]string{"DocumentDraft.Status": "oneof"}}
	}
	return nil
}

func (p DocumentPatch) Validate(t DocumentType) error {
	if err := toValidationError(validate.Struct(p)); err != nil {
		return err
	}
	if p.Status != nil && !t.ValidStatus(*p.Status) {
		return &ValidationError{Message: "invalid status for " + t.Label(), Fields: map[string]string{"DocumentPatch.Status": "oneof"}}
	}
	return nil
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Message: err.Error()}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	return &ValidationError{Message: "invalid document", Fields: fields}
}
