package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 64 << 10

// requestValidator checks decoded request bodies and reports field errors by json name
type requestValidator struct {
	v     *validator.Validate
	trans ut.Translator
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	locale := en.New()
	trans, _ := ut.New(locale, locale).GetTranslator("en")
	_ = entranslations.RegisterDefaultTranslations(v, trans)

	return &requestValidator{v: v, trans: trans}
}

// fieldErrors maps a validation failure to json field name → message.
// Anything else becomes a single "detail" entry.
func (rv *requestValidator) fieldErrors(err error) map[string]string {
	fields := make(map[string]string)
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(rv.trans)
		}
		return fields
	}
	fields["detail"] = err.Error()
	return fields
}

// bind decodes a JSON body into dst and validates it. An empty body is
// decoded as an empty object.
func (rv *requestValidator) bind(r *http.Request, dst any) map[string]string {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return map[string]string{"detail": fmt.Sprintf("invalid request body: %v", err)}
	}
	if err := rv.v.Struct(dst); err != nil {
		return rv.fieldErrors(err)
	}
	return nil
}
