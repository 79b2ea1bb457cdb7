package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/id"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	id_translations "github.com/go-playground/validator/v10/translations/id"
	"github.com/google/uuid"
)

var trans ut.Translator

// Setup installs JSON field names, the uuid_set rule and the translations for
// lang ("id" or "en", default "en") on Gin's binding engine. Call once at startup.
func Setup(lang string) {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("json")
		if tag == "" {
			tag = fld.Tag.Get("form")
		}
		name := strings.SplitN(tag, ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("uuid_set", uuidSet)

	enLocale, idLocale := en.New(), id.New()
	uni := ut.New(enLocale, enLocale, idLocale)
	if lang == "id" {
		trans, _ = uni.GetTranslator("id")
		_ = id_translations.RegisterDefaultTranslations(v, trans)
	} else {
		trans, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, trans)
	}
	_ = v.RegisterTranslation("uuid_set", trans,
		func(ut ut.Translator) error { return ut.Add("uuid_set", "{0} must be a non-zero UUID", true) },
		func(ut ut.Translator, fe govalidator.FieldError) string {
			msg, _ := ut.T("uuid_set", fe.Field())
			return msg
		},
	)
}

// uuidSet rejects the zero UUID, which "required" lets through on array types.
func uuidSet(fl govalidator.FieldLevel) bool {
	u, ok := fl.Field().Interface().(uuid.UUID)
	return ok && u != uuid.Nil
}

// TranslateErrors maps a binding error to field → message. Errors that are not
// validation errors (bad JSON, bad query types) land under "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if trans != nil {
				fields[fe.Field()] = fe.Translate(trans)
			} else {
				fields[fe.Field()] = fe.Error()
			}
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the JSON body into dst.
func Bind(c *gin.Context, dst any) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// BindQuery binds and validates the query string into dst.
func BindQuery(c *gin.Context, dst any) map[string]string {
	if err := c.ShouldBindQuery(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
