package booking

import (
	"reflect"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/roomly/core"
)

var (
	dateTag  = "date"
	dateText = "invalid date, expected YYYY-MM-DD"

	hhmmTag  = "hhmm"
	hhmmText = "invalid time, expected HH:MM"
)

// InitValidators registers the booking validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(dateTag, dateValidation)
	core.RegisterCustomTranslation(validate, translator, dateTag, dateText)

	_ = validate.RegisterValidation(hhmmTag, hhmmValidation)
	core.RegisterCustomTranslation(validate, translator, hhmmTag, hhmmText)
}

func dateValidation(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return isDate(fl.Field().String())
}

func hhmmValidation(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Int, reflect.Int64, reflect.Int32:
		return Minute(fl.Field().Int()).Valid()
	case reflect.String:
		_, err := ParseMinute(fl.Field().String())
		return err == nil
	}
	return false
}
