package port

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aelexs/otp-auth/internal/domain"
)

const maxBodyBytes = 16 << 10

// requestValidator checks presence and size of request fields. Format rules
// (E.164, six digits, UUIDs) belong to the domain and are checked there.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

// fieldsError wraps domain.ErrInvalidInput and lists the failing fields so
// the response can carry them as details.
type fieldsError struct {
	fields []string
}

func (e *fieldsError) Error() string {
	return domain.ErrInvalidInput.Error() + ": " + strings.Join(e.fields, ", ")
}

func (e *fieldsError) Unwrap() error { return domain.ErrInvalidInput }

// Struct returns a *fieldsError naming every failing field.
func (rv *requestValidator) Struct(req any) error {
	err := rv.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	fe := &fieldsError{fields: make([]string, 0, len(fieldErrs))}
	for _, f := range fieldErrs {
		fe.fields = append(fe.fields, f.Field()+" "+f.Tag())
	}
	return fe
}

// decodeJSON reads a bounded JSON body into dst and validates it.
func (rv *requestValidator) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", domain.ErrInvalidInput)
		}
		return fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidInput)
	}
	return rv.Struct(dst)
}
