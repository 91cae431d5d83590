package app

import (
	"errors"
	"fmt"
)

// closers releases resources in reverse order of acquisition.
type closers struct {
	fns    []namedCloser
	closed []string
}

type namedCloser struct {
	name string
	fn   func() error
}

func (c *closers) add(name string, fn func() error) {
	c.fns = append(c.fns, namedCloser{name: name, fn: fn})
}

// close runs every registered closer once, even after a failure, and joins
// their errors.
func (c *closers) close() error {
	var errs []error
	for i := len(c.fns) - 1; i >= 0; i-- {
		nc := c.fns[i]
		if err := nc.fn(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", nc.name, err))
		}
		c.closed = append(c.closed, nc.name)
	}
	c.fns = nil
	return errors.Join(errs...)
}
