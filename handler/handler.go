// Package handler adapts ordinary Go functions to the edgerpc.Handler
// interface, the way 41north-jrpc2/handler/handler.go's New does for
// jrpc2.Handler. registry.RegisterFunc uses it so a method can be
// registered as a plain function instead of a hand-written
// edgerpc.HandlerFunc.
package handler

import (
	"context"
	"errors"
	"reflect"

	"github.com/edgerpc/edgerpc"
	"github.com/edgerpc/edgerpc/code"
)

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
	reqType = reflect.TypeOf((*edgerpc.Request)(nil))
)

// New adapts fn to an edgerpc.Handler. The concrete value of fn must have
// one of the forms:
//
//	func(context.Context) error
//	func(context.Context) Y
//	func(context.Context) (Y, error)
//	func(context.Context, X) error
//	func(context.Context, X) Y
//	func(context.Context, X) (Y, error)
//	func(context.Context, *edgerpc.Request) (interface{}, error)
//
// for JSON-marshalable X and Y. New panics if fn does not have one of
// these forms — it is meant to be called at registration time, not with
// caller-controlled input.
func New(fn interface{}) edgerpc.HandlerFunc {
	h, err := newHandler(fn)
	if err != nil {
		panic("handler.New: " + err.Error())
	}
	return h
}

func newHandler(fn interface{}) (edgerpc.HandlerFunc, error) {
	if fn == nil {
		return nil, errors.New("nil function")
	}
	if f, ok := fn.(func(context.Context, *edgerpc.Request) (interface{}, error)); ok {
		return edgerpc.HandlerFunc(f), nil
	}

	info, err := checkFunctionType(fn)
	if err != nil {
		return nil, err
	}

	var newInput func(*edgerpc.Request) ([]reflect.Value, error)
	switch {
	case info.Argument == nil:
		newInput = func(req *edgerpc.Request) ([]reflect.Value, error) {
			if req.HasParams() {
				return nil, edgerpc.Errorf(code.InvalidParams, "no parameters accepted")
			}
			return nil, nil
		}
	case info.Argument == reqType:
		newInput = func(req *edgerpc.Request) ([]reflect.Value, error) {
			return []reflect.Value{reflect.ValueOf(req)}, nil
		}
	case info.Argument.Kind() == reflect.Ptr:
		newInput = func(req *edgerpc.Request) ([]reflect.Value, error) {
			in := reflect.New(info.Argument.Elem())
			if err := req.UnmarshalParams(in.Interface()); err != nil {
				return nil, edgerpc.Errorf(code.InvalidParams, "invalid parameters: %v", err)
			}
			return []reflect.Value{in}, nil
		}
	default:
		newInput = func(req *edgerpc.Request) ([]reflect.Value, error) {
			in := reflect.New(info.Argument)
			if err := req.UnmarshalParams(in.Interface()); err != nil {
				return nil, edgerpc.Errorf(code.InvalidParams, "invalid parameters: %v", err)
			}
			return []reflect.Value{in.Elem()}, nil
		}
	}

	var decodeOut func([]reflect.Value) (interface{}, error)
	switch {
	case info.Result == nil:
		decodeOut = func(vals []reflect.Value) (interface{}, error) {
			if oerr := vals[0].Interface(); oerr != nil {
				return nil, oerr.(error)
			}
			return nil, nil
		}
	case !info.ReportsError:
		decodeOut = func(vals []reflect.Value) (interface{}, error) {
			return vals[0].Interface(), nil
		}
	default:
		decodeOut = func(vals []reflect.Value) (interface{}, error) {
			out, oerr := vals[0].Interface(), vals[1].Interface()
			if oerr != nil {
				return nil, oerr.(error)
			}
			return out, nil
		}
	}

	f := reflect.ValueOf(fn)
	return edgerpc.HandlerFunc(func(ctx context.Context, req *edgerpc.Request) (interface{}, error) {
		rest, err := newInput(req)
		if err != nil {
			return nil, err
		}
		args := append([]reflect.Value{reflect.ValueOf(ctx)}, rest...)
		return decodeOut(f.Call(args))
	}), nil
}

type funcInfo struct {
	Argument     reflect.Type
	Result       reflect.Type
	ReportsError bool
}

func checkFunctionType(fn interface{}) (*funcInfo, error) {
	t := reflect.TypeOf(fn)
	if t.Kind() != reflect.Func {
		return nil, errors.New("not a function")
	}
	if t.IsVariadic() {
		return nil, errors.New("variadic functions are not supported")
	}
	info := &funcInfo{}
	if np := t.NumIn(); np == 0 || np > 2 {
		return nil, errors.New("wrong number of parameters")
	} else if t.In(0) != ctxType {
		return nil, errors.New("first parameter is not context.Context")
	} else if np == 2 {
		info.Argument = t.In(1)
	}
	no := t.NumOut()
	if no < 1 || no > 2 {
		return nil, errors.New("wrong number of results")
	}
	if no == 2 && t.Out(1) != errType {
		return nil, errors.New("second result is not error")
	}
	info.ReportsError = t.Out(no-1) == errType
	if no == 2 || !info.ReportsError {
		info.Result = t.Out(0)
	}
	return info, nil
}
