package sandbox

import (
	"errors"
	"reflect"
	"strings"

	"github.com/dop251/goja"
)

// formatter converts JS values to strings using the runtime's own JSON and
// String functions, captured before any user code runs so the program cannot
// replace them.
type formatter struct {
	vm        *goja.Runtime
	stringify goja.Callable
	toString  goja.Callable
}

func newFormatter(vm *goja.Runtime) (*formatter, error) {
	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, errors.New("JSON.stringify is not callable")
	}
	toString, ok := goja.AssertFunction(vm.Get("String"))
	if !ok {
		return nil, errors.New("String is not callable")
	}
	return &formatter{vm: vm, stringify: stringify, toString: toString}, nil
}

// json is JSON.stringify(v). ok is false when it yields no text (undefined,
// functions, symbols); err is set when it throws.
func (f *formatter) json(v goja.Value) (s string, ok bool, err error) {
	out, err := f.stringify(goja.Undefined(), v)
	if err != nil {
		return "", false, err
	}
	if out == nil || goja.IsUndefined(out) {
		return "", false, nil
	}
	return out.String(), true, nil
}

// plain is String(v). The conversion may run user code and therefore throw.
func (f *formatter) plain(v goja.Value) (string, error) {
	out, err := f.toString(goja.Undefined(), v)
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// logArg formats one console.log argument. A value with no JSON text logs
// as the empty string; String(v) is used only when serialization throws.
func (f *formatter) logArg(v goja.Value) (string, error) {
	s, _, err := f.json(v)
	if err != nil {
		return f.plain(v)
	}
	return s, nil
}

// result formats a program's completion value: strings pass through, other
// values are JSON, and String(v) covers both a throw and a missing text.
func (f *formatter) result(v goja.Value) (string, error) {
	if isPrimitiveString(v) {
		return v.String(), nil
	}
	if s, ok, err := f.json(v); err == nil && ok {
		return s, nil
	}
	return f.plain(v)
}

// throw rethrows a conversion failure into the calling JS code. An interrupt
// consumed by the nested call is re-armed so the watchdog still wins.
func (f *formatter) throw(err error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		f.vm.Interrupt(interrupted.Value())
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex.Value())
	}
	panic(f.vm.NewGoError(err))
}

func isPrimitiveString(v goja.Value) bool {
	if v == nil {
		return false
	}
	switch v.(type) {
	case *goja.Object, *goja.Symbol:
		return false
	}
	t := v.ExportType()
	return t != nil && t.Kind() == reflect.String
}

// console is the only host object exposed to submitted code.
type console struct {
	f     *formatter
	logs  []string
	onLog func(string)
}

func (c *console) install(vm *goja.Runtime) error {
	obj := vm.NewObject()
	if err := obj.Set("log", c.log); err != nil {
		return err
	}
	if err := obj.Set("error", c.error); err != nil {
		return err
	}
	return vm.Set("console", obj)
}

func (c *console) append(entry string) {
	c.logs = append(c.logs, entry)
	if c.onLog != nil {
		c.onLog(entry)
	}
}

func (c *console) log(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		s, err := c.f.logArg(arg)
		if err != nil {
			c.f.throw(err)
		}
		parts[i] = s
	}
	c.append(strings.Join(parts, " "))
	return goja.Undefined()
}

// error joins plain string conversions; null and undefined render empty,
// matching Array.prototype.join.
func (c *console) error(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			continue
		}
		s, err := c.f.plain(arg)
		if err != nil {
			c.f.throw(err)
		}
		parts[i] = s
	}
	c.append("[ERROR] " + strings.Join(parts, " "))
	return goja.Undefined()
}
