// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case relayError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

func IsRetryableErr(err error) bool {
	var rerr relayError
	if errors.As(err, &rerr) {
		return rerr.retriable
	}
	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

func wrapMsg(err error, msg []string) error {
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Service 相关错误封装。
func WrapErrServiceClosed(service string, msg ...string) error {
	return wrapMsg(wrapFields(ErrServiceClosed, value("service", service)), msg)
}

func WrapErrServiceInternal(reason string, msg ...string) error {
	return wrapMsg(wrapFieldsWithDesc(ErrServiceInternal, reason), msg)
}

func WrapErrServiceUnavailable(reason string, msg ...string) error {
	return wrapMsg(wrapFieldsWithDesc(ErrServiceUnavailable, reason), msg)
}

func WrapErrListenFailed(addr string, err error) error {
	return wrapFieldsWithDesc(ErrListenFailed, err.Error(), value("addr", addr))
}

func WrapErrCapacityExceeded(limit int, msg ...string) error {
	return wrapMsg(wrapFields(ErrCapacityExceeded, value("limit", limit)), msg)
}

// Session 相关错误封装。
func WrapErrSessionNotFound(id any, msg ...string) error {
	return wrapMsg(wrapFields(ErrSessionNotFound, value("session", id)), msg)
}

func WrapErrSessionClosed(id any, msg ...string) error {
	return wrapMsg(wrapFields(ErrSessionClosed, value("session", id)), msg)
}

func WrapErrNameAlreadySet(id any, name string) error {
	return wrapFields(ErrNameAlreadySet, value("session", id), value("name", name))
}

// IO 相关错误封装。
func WrapErrIoFailed(key string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoFailed, err.Error(), value("key", key))
}

func WrapErrIoUnexpectEOF(key string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoUnexpectEOF, err.Error(), value("key", key))
}

// 参数相关错误封装。
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	return wrapMsg(wrapFields(ErrParameterInvalid,
		value("expected", expected),
		value("actual", actual),
	), msg)
}

func WrapErrParameterInvalidRange[T any](lower, upper, actual T, msg ...string) error {
	return wrapMsg(wrapFields(ErrParameterInvalid,
		bound("value", actual, lower, upper),
	), msg)
}

func WrapErrParameterInvalidMsg(fmtStr string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmtStr, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	return wrapMsg(wrapFields(ErrParameterMissing,
		value("missing_param", param),
	), msg)
}

func WrapErrParameterTooLarge(name string, msg ...string) error {
	return wrapMsg(wrapFields(ErrParameterTooLarge, value("message", name)), msg)
}

func wrapFields(err relayError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err relayError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}

type boundField struct {
	name  string
	value any
	lower any
	upper any
}

func bound(name string, value, lower, upper any) boundField {
	return boundField{
		name,
		value,
		lower,
		upper,
	}
}

func (f boundField) String() string {
	return fmt.Sprintf("%v out of range %v <= %s <= %v", f.value, f.lower, f.name, f.upper)
}
