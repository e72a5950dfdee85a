package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// inputMessages maps "<json field>.<tag>" to the message shown to clients.
var inputMessages = map[string]string{
	"name.required":            "Please tell us your name!",
	"email.required":           "Please provide your email",
	"email.email":              "Please provide a valid email",
	"password.required":        "Please provide a password",
	"passwordConfirm.required": "Please confirm your password",
	"passwordConfirm.eqfield":  "Password confirm and password must match",
	"currentPassword.required": "Please provide your current password",
	"role.required":            "Please provide a role",
}

// validateInput checks struct tags on a request and reports the first
// failure as a validation error.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if msg, ok := inputMessages[fe.Field()+"."+fe.Tag()]; ok {
			return common.Validation(msg)
		}
		return common.Validation(fmt.Sprintf("Invalid input data: %s", fe.Field()))
	}
	return common.Validation("Invalid input data")
}
