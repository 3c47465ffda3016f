package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/vyrodovalexey/formgate/internal/gateway"
)

// fieldTag names the struct tag shared by form and JSON decoding.
const fieldTag = "form"

var errNotObject = errors.New("body must be a JSON object")

var errTrailingData = errors.New("unexpected data after JSON object")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get(fieldTag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode fills dst from the request body. Form bodies use the parsed form;
// JSON bodies must be a flat object of scalars.
func decode(req *gateway.Request, dst interface{}) error {
	values := map[string][]string(req.Form)
	if !req.IsForm() {
		var err error
		if values, err = jsonValues(req.Body); err != nil {
			return err
		}
	}
	return binding.MapFormWithTag(dst, values, fieldTag)
}

func jsonValues(body []byte) (map[string][]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if raw == nil {
		return nil, errNotObject
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}

	values := make(map[string][]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			values[k] = []string{val}
		case json.Number:
			values[k] = []string{val.String()}
		case bool:
			values[k] = []string{fmt.Sprint(val)}
		default:
			return nil, fmt.Errorf("field %q: %w", k, errNotObject)
		}
	}
	return values, nil
}

// trimStrings trims every string field of the struct pointed to by dst.
func trimStrings(dst interface{}) {
	v := reflect.ValueOf(dst).Elem()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() == reflect.String && f.CanSet() {
			f.SetString(strings.TrimSpace(f.String()))
		}
	}
}

// validationMessage turns the first validation failure into a client-facing
// message.
func validationMessage(err error, labels map[string]string) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return msgInvalidBody
	}

	fe := verrs[0]
	label, ok := labels[fe.Field()]
	if !ok {
		label = fe.Field()
	}
	switch fe.Tag() {
	case "required", "required_if":
		return label + " is required."
	case "email":
		return "Please enter a valid email address."
	case "max":
		return label + " is too long."
	case "oneof":
		return label + " is not a valid option."
	default:
		return label + " is invalid."
	}
}
