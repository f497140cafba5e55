package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves an operator secret from an environment variable or
// by prompting on the terminal. The value is cached after the first
// successful retrieval so repeated calls reuse the same secret.
type Source struct {
	label  string
	envVar string

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source for the named secret that checks envVar
// before interactively prompting. The label shows up in prompts and errors.
func NewSource(label, envVar string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "secret"
	}
	return &Source{label: label, envVar: strings.TrimSpace(envVar)}
}

// Get returns the cached secret or resolves it on the first call. When the
// environment variable is set the exact value is used; otherwise the
// operator is prompted on stderr. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s required and no terminal available", s.label)
			}
			return
		}

		fmt.Fprintf(os.Stderr, "Enter %s: ", s.label)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("read %s: %w", s.label, err)
			return
		}

		value := string(raw)
		if strings.TrimSpace(value) == "" {
			s.err = errors.New(s.label + " cannot be empty")
			return
		}

		s.value = value
	})

	return s.value, s.err
}
