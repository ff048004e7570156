package outgoing

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	pkgerrors "github.com/edihub/edi-backend/pkg/errors"
	"github.com/edihub/edi-backend/pkg/enums"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	mustRegister(v, "document_type", func(fl validator.FieldLevel) bool {
		return enums.DocumentType(fl.Field().String()).IsValid()
	})
	mustRegister(v, "business_reason", func(fl validator.FieldLevel) bool {
		return enums.BusinessReason(fl.Field().String()).IsValid()
	})
	mustRegister(v, "actor_number", func(fl validator.FieldLevel) bool {
		return enums.IsActorNumber(fl.Field().String())
	})
	mustRegister(v, "actor_role", func(fl validator.FieldLevel) bool {
		return enums.ActorRole(fl.Field().String()).IsValid()
	})
	mustRegister(v, "message_category", func(fl validator.FieldLevel) bool {
		return enums.MessageCategory(fl.Field().String()).IsValid()
	})
	mustRegister(v, "nonzero_uuid", func(fl validator.FieldLevel) bool {
		id, ok := fl.Field().Interface().(uuid.UUID)
		return ok && id != uuid.Nil
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %s: %v", tag, err))
	}
}

// validateRequest returns a VALIDATION_ERROR listing each failing field.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := map[string]string{}
	for _, fieldErr := range errs {
		details[fieldErr.Namespace()] = fieldErr.Tag()
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}
