package helpers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"xenon/logger"
)

// PrintStruct prints a given struct in pretty format with indent.
func PrintStruct(v any) {
	res, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(res))
}

// Map applies a function to each item in a slice and returns a new slice.
func Map[A any, B any](arr []A, f func(A) B) []B {
	result := make([]B, len(arr))
	for i, v := range arr {
		result[i] = f(v)
	}
	return result
}

// StdOutput copies a child process's stdout into the logger, line by line,
// until the pipe closes. Meant to be run in its own goroutine.
func StdOutput(stdoutPipe io.ReadCloser) {
	if stdoutPipe == nil {
		return
	}
	scanner := bufio.NewScanner(stdoutPipe)
	for scanner.Scan() {
		logger.Info("stdout", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		logger.Error("error reading stdout", err)
	}
}

// StdError copies a child process's stderr into the logger, line by line,
// until the pipe closes. Meant to be run in its own goroutine.
func StdError(stderrPipe io.ReadCloser) {
	if stderrPipe == nil {
		return
	}
	scanner := bufio.NewScanner(stderrPipe)
	for scanner.Scan() {
		logger.Warn("stderr", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		logger.Error("error reading stderr", err)
	}
}
