package client

import (
	"fmt"
	"os"
	"path/filepath"
)

// ValidationError describes an unusable command-line argument.
type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// ParseArgs validates that every argument names an existing regular file
// and returns the cleaned paths.
func ParseArgs(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided"}
	}

	var out []string
	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}
		if info.IsDir() {
			return nil, &ValidationError{Arg: raw, Cause: "is a directory, only files can be uploaded"}
		}
		out = append(out, p)
	}
	return out, nil
}
