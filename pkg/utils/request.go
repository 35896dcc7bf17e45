package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxJSONBodyBytes 限制 JSON 请求体大小。
const MaxJSONBodyBytes = 1 << 20

// ErrInvalidRequest 表示请求体无法解析。
var ErrInvalidRequest = errors.New("invalid request body")

// ValidationError 汇总字段校验失败信息，键为 JSON 字段名。
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, msg := range e.Fields {
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return "validation failed"
	}
	// 字段顺序不稳定，单字段时信息最有用
	if len(msgs) == 1 {
		return msgs[0]
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// ValidateStruct 按 validate 标签校验结构体。
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fields := make(map[string]string, len(validationErrs))
	for _, e := range validationErrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "oneof":
			fields[field] = fmt.Sprintf("%s must be one of [%s]", field, e.Param())
		case "max":
			fields[field] = fmt.Sprintf("%s must be at most %s characters", field, e.Param())
		default:
			fields[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return &ValidationError{Fields: fields}
}

// DecodeJSON 解析请求体并校验。解析失败返回 ErrInvalidRequest，校验失败返回 *ValidationError。
func DecodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, MaxJSONBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return ValidateStruct(dst)
}

// IsBadRequest 判断错误是否属于客户端输入问题。
func IsBadRequest(err error) bool {
	var validationErr *ValidationError
	return errors.Is(err, ErrInvalidRequest) || errors.As(err, &validationErr)
}
