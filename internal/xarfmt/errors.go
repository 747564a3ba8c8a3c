package xarfmt

import "fmt"

func xarErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("xarfmt: "+format, args...)
}
