package validation

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/estate/internal/model"
)

// FieldErrors はフィールド名（JSONタグ名）からエラーメッセージへのマップを保持する検証エラー。
type FieldErrors struct {
	Fields map[string]string
}

// Error はerrorインターフェースを実装する。フィールド名順に連結する。
func (e *FieldErrors) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	msgs := make([]string, 0, len(names))
	for _, name := range names {
		msgs = append(msgs, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return strings.Join(msgs, "; ")
}

// APIError はAPIエラー形式に変換する。
func (e *FieldErrors) APIError() *model.APIError {
	apiErr := model.NewValidationError(e.Error())
	apiErr.Err = e
	return apiErr
}

// Validator はgo-playground/validatorのラッパー。
// リクエスト構造体のvalidateタグを検証し、独自ルール mobile, password, unique_code を提供する。
type Validator struct {
	validate *validator.Validate
}

// New はValidatorを生成する。
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// エラーメッセージにはGoのフィールド名ではなくJSONタグ名を使用する
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("failed to register validation tag %q: %v", tag, err))
		}
	}
	mustRegister("mobile", func(fl validator.FieldLevel) bool {
		return IsMobileNumber(fl.Field().String())
	})
	mustRegister("password", func(fl validator.FieldLevel) bool {
		ok, _ := ValidatePassword(fl.Field().String())
		return ok
	})
	mustRegister("simple_email", func(fl validator.FieldLevel) bool {
		return IsEmail(fl.Field().String())
	})
	mustRegister("unique_code", func(fl validator.FieldLevel) bool {
		return IsUniqueCode(fl.Field().String())
	})

	return &Validator{validate: v}
}

// Validate は構造体を検証する。
// 検証エラーがあれば *model.APIError（VALIDATION_ERROR）を返す。
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("failed to validate request: %w", err)
	}

	fields := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		if _, exists := fields[fe.Field()]; exists {
			continue
		}
		fields[fe.Field()] = messageFor(fe)
	}
	return (&FieldErrors{Fields: fields}).APIError()
}

// messageFor はタグごとのエラーメッセージを生成する。
func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email", "simple_email":
		return "Please enter a valid email address"
	case "mobile":
		return "Please enter a valid 10-digit mobile number"
	case "password":
		_, msg := ValidatePassword(fmt.Sprint(fe.Value()))
		return msg
	case "eqfield":
		return "Passwords do not match"
	case "unique_code":
		return "Must match SKP-YYYYMMDD-NNNN"
	case "min":
		return fmt.Sprintf("Must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url", "http_url":
		return "Must be a valid URL"
	case "datetime":
		return fmt.Sprintf("Must use the format %s", fe.Param())
	case "uuid", "uuid4":
		return "Must be a valid ID"
	default:
		return fmt.Sprintf("Invalid value (failed on '%s' tag)", fe.Tag())
	}
}
