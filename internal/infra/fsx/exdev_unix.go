//go:build unix

package fsx

import (
	"errors"
	"syscall"
)

func isEXDEV(err error) bool { return errors.Is(err, syscall.EXDEV) }
