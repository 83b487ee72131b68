package workflow

import (
	"errors"
	"fmt"

	"github.com/mnajarc/sistemaInm-sub001/pkg/store"
)

var (
	ErrUnauthorized = errors.New("not authorized")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
)

// translate maps store errors onto the workflow taxonomy.
func translate(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}
