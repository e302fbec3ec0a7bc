// Package errors re-exports the error constructors the rest of the module
// uses, so call sites get stack-carrying errors without each package
// choosing a library.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	New    = errors.New
	Errorf = errors.Errorf
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	Cause  = errors.Cause
	Is     = errors.Is
)

// richError is an error that formats with rich information, stacktrace
// included, when printed with %+v.
type richError interface {
	error
	fmt.Formatter
}

// Rich wraps an arbitrary recovered value into a stack-carrying error.
func Rich(err interface{}) error {
	if err == nil {
		return nil
	}
	switch err := err.(type) {
	case richError:
		return err
	case error:
		return errors.WithStack(err)
	default:
		return errors.New(fmt.Sprintf("%v", err))
	}
}
