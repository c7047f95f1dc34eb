package profile

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/homework/core"
)

var (
	signUpRoleTag  = "signuprole"
	signUpRoleText = "role must be one of student or teacher"

	roleTag  = "role"
	roleText = "invalid role"
)

// InitValidators registers the profile validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(signUpRoleTag, signUpRoleValidation)
	core.RegisterCustomTranslation(validate, translator, signUpRoleTag, signUpRoleText)

	_ = validate.RegisterValidation(roleTag, roleValidation)
	core.RegisterCustomTranslation(validate, translator, roleTag, roleText)
}

// signUpRoleValidation only allows the roles a principal may pick at sign-up.
func signUpRoleValidation(fl validator.FieldLevel) bool {
	return IsSignUpRole(fl.Field().String())
}

func roleValidation(fl validator.FieldLevel) bool {
	return IsValidRole(fl.Field().String())
}
