package validation

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	codesMu       sync.RWMutex
	currencyCodes = make(map[string]struct{})
)

// Validator returns the shared validator instance with custom tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("currency_code", validateCurrencyCode)
	})
	return validate
}

// RegisterCurrencyCodes adds codes accepted by the currency_code tag.
func RegisterCurrencyCodes(codes ...string) {
	codesMu.Lock()
	defer codesMu.Unlock()
	for _, code := range codes {
		currencyCodes[strings.ToUpper(code)] = struct{}{}
	}
}

// ValidateStruct validates s and converts validator failures into a *ValidationError
func ValidateStruct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return NewValidationError(validationErrs)
	}
	return err
}

func validateCurrencyCode(fl validator.FieldLevel) bool {
	codesMu.RLock()
	defer codesMu.RUnlock()
	_, ok := currencyCodes[strings.ToUpper(fl.Field().String())]
	return ok
}
