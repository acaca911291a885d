package cli

import "os"

// IsNonInteractive reports whether the session must not assume a terminal.
func IsNonInteractive() bool {
	if nonInteractive {
		return true
	}
	if _, ok := os.LookupEnv("LGWORKER_NON_INTERACTIVE"); ok {
		return true
	}
	return !hasTTY()
}

// IsInteractive reports whether a person is at the terminal.
func IsInteractive() bool {
	return !IsNonInteractive()
}
