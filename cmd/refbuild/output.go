package main

import (
	"encoding/json"
	"fmt"
	"os"

	pipelineerrors "github.com/ukpostal/refbuild/internal/errors"
)

// argError marks a command-line argument problem, mapped to exit code 2
// per §6 ("2 argument parse failure") rather than the domain-error 1.
type argError struct{ msg string }

func (e *argError) Error() string { return e.msg }

func argErrorf(format string, args ...any) error {
	return &argError{msg: fmt.Sprintf(format, args...)}
}

// printResult writes a single JSON success line to stdout (§6).
func printResult(data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["status"] = "ok"
	b, err := json.Marshal(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, `{"status":"error","error":%q}`+"\n", err.Error())
		return
	}
	fmt.Println(string(b))
}

// fail prints a single JSON error line to stderr and returns err unchanged.
// main calls it after rootCmd.Execute() returns an error, then picks the
// exit code with exitCodeFor.
func fail(err error) error {
	record := map[string]any{"status": "error", "error": err.Error()}
	if pe, ok := err.(*pipelineerrors.Error); ok {
		record["category"] = pe.Category.String()
		if len(pe.Context) > 0 {
			record["context"] = pe.Context
		}
	}
	b, marshalErr := json.Marshal(record)
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, `{"status":"error","error":%q}`+"\n", err.Error())
		return err
	}
	fmt.Fprintln(os.Stderr, string(b))
	return err
}

// exitCodeFor maps a returned error to §6's exit code convention.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := err.(*argError); ok {
		return 2
	}
	return 1
}
