package utils

import (
	"fmt"
	"runtime"
)

// WrapError annotates an error with the caller's file and line so JSON
// log entries stay traceable without full stack captures.
func WrapError(err error) error {
	_, file, line, _ := runtime.Caller(1)
	return fmt.Errorf("error at %s:%d: %v", file, line, err)
}
