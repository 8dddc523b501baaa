package marshaller

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"emperror.dev/errors"
)

// JsonMarshaller encodes non-textual payloads as JSON. Text and bytes pass
// through unchanged before encryption.
type JsonMarshaller struct {
	// Encryptor is applied last on Encode and first on Decode; nil disables it.
	Encryptor Encryptor
	// Object makes Decode return the structured value instead of raw bytes.
	Object bool
}

func NewJsonMarshaller(enc Encryptor, object bool) *JsonMarshaller {
	return &JsonMarshaller{Encryptor: enc, Object: object}
}

func (jm JsonMarshaller) Encode(v interface{}) ([]byte, error) {
	var buf []byte
	switch x := v.(type) {
	case []byte:
		buf = x
	case string:
		buf = []byte(x)
	default:
		var err error
		if buf, err = marshal(v); err != nil {
			return nil, err
		}
	}

	if jm.Encryptor == nil {
		return buf, nil
	}
	out, err := jm.Encryptor.Encrypt(buf)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt payload failed")
	}
	return out, nil
}

func (jm JsonMarshaller) Decode(data interface{}) (interface{}, error) {
	var buf []byte
	switch x := data.(type) {
	case []byte:
		buf = x
	case string:
		buf = []byte(x)
	default:
		return nil, errors.WithDetails(ErrTypeDecode, "type", fmt.Sprintf("%T", data))
	}

	buf, err := jm.Open(buf)
	if err != nil {
		return nil, err
	}
	if !jm.Object {
		return buf, nil
	}
	return jsonOrLiteral(string(buf)), nil
}

func (jm JsonMarshaller) Open(data []byte) ([]byte, error) {
	if jm.Encryptor == nil {
		return data, nil
	}
	out, err := jm.Encryptor.Decrypt(data)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt payload failed")
	}
	return out, nil
}

// marshal falls back to fmt's rendering for members encoding/json rejects.
func marshal(v interface{}) ([]byte, error) {
	buf, err := json.Marshal(v)
	if err == nil {
		return buf, nil
	}
	var ute *json.UnsupportedTypeError
	var uve *json.UnsupportedValueError
	if !errors.As(err, &ute) && !errors.As(err, &uve) {
		return nil, errors.Wrapf(err, "json marshal for %T failed", v)
	}

	buf, err = json.Marshal(sanitize(reflect.ValueOf(v)))
	if err != nil {
		return nil, errors.Wrapf(err, "json marshal for %T failed", v)
	}
	return buf, nil
}

func sanitize(v reflect.Value) interface{} {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		return sanitize(v.Elem())
	case reflect.Map:
		out := make(map[string]interface{}, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = sanitize(iter.Value())
		}
		return out
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes()
		}
		out := make([]interface{}, v.Len())
		for i := range out {
			out[i] = sanitize(v.Index(i))
		}
		return out
	case reflect.Float32, reflect.Float64:
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return v.Interface()
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Sprint(v.Interface())
	case reflect.Struct:
		if !v.CanInterface() {
			return nil
		}
		if _, err := json.Marshal(v.Interface()); err == nil {
			return v.Interface()
		}
		return fmt.Sprintf("%+v", v.Interface())
	default:
		if v.CanInterface() {
			return v.Interface()
		}
		return nil
	}
}

// jsonOrLiteral decodes s as JSON, then as a scalar literal, and returns the
// text itself when neither applies.
func jsonOrLiteral(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}

	t := strings.TrimSpace(s)
	switch t {
	case "None", "nil", "null":
		return nil
	case "True":
		return true
	case "False":
		return false
	}
	if n, err := strconv.ParseInt(t, 0, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil {
		return f
	}
	if len(t) >= 2 && t[0] == '\'' && t[len(t)-1] == '\'' {
		return t[1 : len(t)-1]
	}
	if u, err := strconv.Unquote(t); err == nil {
		return u
	}
	return s
}
