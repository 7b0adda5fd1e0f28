// Package validator wraps go-playground/validator with JSON field names,
// translated error messages and the project's custom rules. It is installed
// as gin's binding validator so request structs declare their rules in
// `binding` tags.
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// Language constants for i18n support.
const (
	LangEN = "en"
	LangZH = "zh"
)

// tagName matches the struct tag gin uses for binding rules.
const tagName = "binding"

// Validator wraps go-playground/validator with additional features.
type Validator struct {
	validate *validator.Validate
	uni      *ut.UniversalTranslator
	trans    map[string]ut.Translator
	mu       sync.RWMutex
}

var (
	globalValidator *Validator
	once            sync.Once
)

// Global returns the global validator instance.
func Global() *Validator {
	once.Do(func() {
		globalValidator = New()
	})
	return globalValidator
}

// New creates a new Validator instance with default configuration.
func New() *Validator {
	v := &Validator{
		validate: validator.New(),
		trans:    make(map[string]ut.Translator),
	}
	v.validate.SetTagName(tagName)

	// Use JSON tag names for error field names
	v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	enLocale := en.New()
	v.uni = ut.New(enLocale, enLocale, zh.New())

	enTrans, _ := v.uni.GetTranslator(LangEN)
	_ = en_translations.RegisterDefaultTranslations(v.validate, enTrans)
	v.trans[LangEN] = enTrans

	zhTrans, _ := v.uni.GetTranslator(LangZH)
	_ = zh_translations.RegisterDefaultTranslations(v.validate, zhTrans)
	v.trans[LangZH] = zhTrans

	v.registerCustomRules()
	v.registerCustomTranslations()

	return v
}

// Validate validates a struct or a pointer to one. Other kinds are accepted
// without validation.
func (v *Validator) Validate(obj any) error {
	if obj == nil {
		return nil
	}
	val := reflect.ValueOf(obj)
	for val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil
	}
	return v.validate.Struct(obj)
}

// Var validates a single variable.
func (v *Validator) Var(field any, tag string) error {
	return v.validate.Var(field, tag)
}

// GetTranslator returns a translator for the specified language.
// Unknown languages fall back to English.
func (v *Validator) GetTranslator(lang string) ut.Translator {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if trans, ok := v.trans[lang]; ok {
		return trans
	}
	return v.trans[LangEN]
}

// Translate converts validation failures in err to translated field errors.
// It returns nil when err carries no validation failures.
func (v *Validator) Translate(err error, lang string) *ValidationErrors {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return nil
	}

	trans := v.GetTranslator(lang)
	result := &ValidationErrors{Errors: make([]FieldError, 0, len(errs))}
	for _, fe := range errs {
		result.Errors = append(result.Errors, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: fe.Translate(trans),
		})
	}
	return result
}

// Message returns a readable English message for a binding error. Errors
// that are not validation failures, such as malformed JSON, are returned as is.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if ve := Global().Translate(err, LangEN); ve.HasErrors() {
		return ve.Error()
	}
	return err.Error()
}

// ginValidator adapts Validator to gin's binding.StructValidator.
type ginValidator struct {
	v *Validator
}

func (g *ginValidator) ValidateStruct(obj any) error {
	return g.v.Validate(obj)
}

func (g *ginValidator) Engine() any {
	return g.v.validate
}

// InstallGin makes the global validator gin's binding validator.
func InstallGin() {
	binding.Validator = &ginValidator{v: Global()}
}
