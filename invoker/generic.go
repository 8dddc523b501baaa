package invoker

import (
	"fmt"
	"reflect"
	"strings"

	"emperror.dev/errors"
)

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	emptyType = reflect.TypeOf((*interface{})(nil)).Elem()
)

// reflection based binding of callback parameters, slow but generic
type genericInvoker struct{}

func NewGenericInvoker() *genericInvoker {
	return &genericInvoker{}
}

// Call binds fn's parameters with Bind, invokes it and returns the error fn
// returned as its last result, if it declares one.
func (vk genericInvoker) Call(fn interface{}, exact []interface{}, value interface{}) error {
	args, err := vk.Bind(fn, exact, value)
	if err != nil {
		return err
	}

	out, err := vk.Invoke(fn, args)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		return nil
	}
	if e, ok := out[len(out)-1].(error); ok && e != nil {
		return e
	}
	return nil
}

// Bind picks an argument for every parameter of fn:
//   - a value from exact whose type is, or implements, the parameter type;
//   - for an empty interface parameter, value itself;
//   - for any other interface parameter, nil;
//   - otherwise value converted to the parameter type (maps and structs are
//     converted field by field, honouring json tags).
func (vk genericInvoker) Bind(fn interface{}, exact []interface{}, value interface{}) ([]interface{}, error) {
	funcT := reflect.TypeOf(fn)
	if funcT == nil || funcT.Kind() != reflect.Func {
		return nil, errors.Errorf("callback %T is not a function", fn)
	}
	if funcT.IsVariadic() {
		return nil, errors.Errorf("variadic callback %v not supported", funcT)
	}

	args := make([]interface{}, funcT.NumIn())
	for i := 0; i < funcT.NumIn(); i++ {
		pt := funcT.In(i)

		if v, ok := vk.match(exact, pt); ok {
			args[i] = v
			continue
		}

		switch {
		case pt == emptyType:
			args[i] = value
		case pt.Kind() == reflect.Interface:
			args[i] = nil
		default:
			converted, err := vk.from(value, pt)
			if err != nil {
				return nil, errors.Wrapf(err, "cannot bind parameter %d (%v) of %v", i, pt, funcT)
			}
			args[i] = converted.Interface()
		}
	}

	return args, nil
}

func (vk genericInvoker) match(exact []interface{}, pt reflect.Type) (interface{}, bool) {
	if pt == emptyType {
		return nil, false
	}
	for _, c := range exact {
		if c == nil {
			continue
		}
		ct := reflect.TypeOf(c)
		if ct == pt || (pt.Kind() == reflect.Interface && ct.Implements(pt)) {
			return c, true
		}
	}
	return nil, false
}

// Invoke calls f with param converted positionally to its parameter types.
func (vk genericInvoker) Invoke(f interface{}, param []interface{}) (out []interface{}, err error) {
	funcT := reflect.TypeOf(f)

	// make sure parameter matched
	if len(param) != funcT.NumIn() {
		return nil, fmt.Errorf("parameter count mismatch: %v %v", len(param), funcT.NumIn())
	}

	// convert param into []reflect.Value
	var in = make([]reflect.Value, funcT.NumIn())
	for i := 0; i < funcT.NumIn(); i++ {
		if in[i], err = vk.from(param[i], funcT.In(i)); err != nil {
			return nil, err
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()

	ret := reflect.ValueOf(f).Call(in)
	out = make([]interface{}, funcT.NumOut())
	for i := 0; i < funcT.NumOut(); i++ {
		if ret[i].CanInterface() {
			out[i] = ret[i].Interface()
		} else {
			return nil, fmt.Errorf("unable to convert to interface{} for %d", i)
		}
	}

	return out, nil
}

func (vk genericInvoker) from(val interface{}, t reflect.Type) (reflect.Value, error) {
	if val == nil {
		// for pointer type, reflect.Zero create a nil pointer
		return reflect.Zero(t), nil
	}

	return vk.convert(reflect.ValueOf(val), t)
}

func (vk genericInvoker) convert(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	var err error

	if v.IsValid() {
		if v.Type().Kind() == reflect.Interface {
			if v.IsNil() {
				return reflect.Zero(t), nil
			}
			v = reflect.ValueOf(v.Interface())
		}
		if v.Type().AssignableTo(t) {
			return v, nil
		}
		if v.Type().ConvertibleTo(t) && !numberToString(v.Type(), t) {
			return v.Convert(t), nil
		}
	}

	deref := 0
	// only reflect.Value from reflect.New is settable
	// reflect.Zero is not.
	ret := reflect.New(t)
	for ; t.Kind() == reflect.Ptr; deref++ {
		t = t.Elem()
		ret.Elem().Set(reflect.New(t))
		ret = ret.Elem()
	}
	elm := ret.Elem()

	switch elm.Kind() {
	case reflect.Struct:
		err = vk.convert2struct(v, elm, t)
	case reflect.Map:
		err = vk.convert2map(v, elm, t)
	case reflect.Slice:
		err = vk.convert2slice(v, elm, t)
	default:
		if v.IsValid() && v.Type().ConvertibleTo(t) && !numberToString(v.Type(), t) {
			// json decoding yields values, pointer parameters are rebuilt here
			elm.Set(v.Convert(t))
		} else {
			err = fmt.Errorf("unsupported conversion %v to %v", v.Kind(), t)
		}
	}

	if deref == 0 {
		ret = ret.Elem()
	} else {
		// dereferencing to correct type
		for deref--; deref > 0; deref-- {
			ret = ret.Addr()
		}
	}

	return ret, err
}

// reflect converts ints to strings as runes, which is never what a caller means.
func numberToString(from, to reflect.Type) bool {
	if to.Kind() != reflect.String {
		return false
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func (vk genericInvoker) convert2slice(v, r reflect.Value, rt reflect.Type) (err error) {
	if k := v.Kind(); k != reflect.Slice && k != reflect.Array {
		return fmt.Errorf("only Slice/Array not %v convertible to slice", k)
	}
	r.Set(reflect.MakeSlice(rt, 0, v.Len()))
	for i := 0; i < v.Len(); i++ {
		if converted, err_ := vk.convert(v.Index(i), rt.Elem()); err_ != nil {
			err = err_
			break
		} else {
			r.Set(reflect.Append(r, converted))
		}
	}

	return
}

func (vk genericInvoker) convert2map(v, r reflect.Value, rt reflect.Type) (err error) {
	if v.Kind() != reflect.Map {
		return fmt.Errorf("only Map not %v convertible to map", v.Kind())
	}
	r.Set(reflect.MakeMap(rt))

	for _, k := range v.MapKeys() {
		key, err_ := vk.convert(k, rt.Key())
		if err_ != nil {
			return err_
		}
		if converted, err_ := vk.convert(v.MapIndex(k), rt.Elem()); err_ != nil {
			// propagate error
			err = err_
			break
		} else {
			r.SetMapIndex(key, converted)
		}
	}

	return
}

func (vk genericInvoker) convert2struct(v, r reflect.Value, rt reflect.Type) (err error) {
	var (
		fv, mv reflect.Value
		ft     reflect.StructField
		key    string
	)
	kind := v.Kind()

	if !(kind == reflect.Map || kind == reflect.Struct) {
		err = fmt.Errorf("only Map/Struct not %v convertible to struct", v.Kind().String())
		return
	}
	var keyT reflect.Type
	if kind == reflect.Map {
		if keyT = v.Type().Key(); keyT.Kind() != reflect.String && keyT.Kind() != reflect.Interface {
			return fmt.Errorf("map key %v not convertible to struct field names", keyT)
		}
	}
	for i := 0; i < r.NumField(); i++ {
		if fv = r.Field(i); !fv.CanSet() {
			continue
		}

		var converted reflect.Value

		ft = rt.Field(i)
		switch kind {
		case reflect.Map:
			if ft.Anonymous {
				converted, err = vk.convert(v, ft.Type)
				break
			}
			// json tags
			key = ""
			if tag := ft.Tag.Get("json"); tag != "" {
				key = strings.Split(strings.Trim(tag, "\""), ",")[0]
				if key == "-" {
					continue
				}
			}
			if key == "" {
				key = ft.Name
			}
			k := reflect.ValueOf(key)
			if keyT.Kind() == reflect.String {
				k = k.Convert(keyT)
			}
			if mv = v.MapIndex(k); !mv.IsValid() {
				continue
			}

			converted, err = vk.convert(mv, fv.Type())
		case reflect.Struct:
			if converted = v.FieldByName(ft.Name); !converted.IsValid() {
				continue
			}
			converted, err = vk.convert(converted, fv.Type())
		}

		if err != nil {
			return err
		}

		fv.Set(converted)
	}

	return err
}
