package validators

import (
	"cnpjconsulta/cmd/internal/utils"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// CNPJ validates that the field is a well-formed CNPJ once formatting
// characters are stripped, including the RFB check digits.
func CNPJ(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return false
	}

	cnpj, ok := utils.CanonicalizeCNPJ(field.String())
	if !ok {
		return false
	}
	return utils.IsCNPJValid(cnpj)
}
