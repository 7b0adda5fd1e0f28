package validator

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// registerCustomTranslations registers translations for custom validation rules.
func (v *Validator) registerCustomTranslations() {
	messages := map[string]map[string]string{
		LangEN: {
			TagNotBlank: "{0} must not be blank",
			TagTrimmed:  "{0} must not have leading or trailing spaces",
		},
		LangZH: {
			TagNotBlank: "{0}不能为空白",
			TagTrimmed:  "{0}不能有前导或尾随空格",
		},
	}

	for lang, translations := range messages {
		trans := v.GetTranslator(lang)
		for tag, message := range translations {
			registerTranslation(v.validate, trans, tag, message)
		}
	}
}

// registerTranslation registers a single translation.
func registerTranslation(validate *validator.Validate, trans ut.Translator, tag, message string) {
	_ = validate.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
}
