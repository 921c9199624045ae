// Package credentials resolves the bearer token used by wager-cli.
package credentials

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a gateway token from an environment variable or by
// prompting the operator. The value is cached after the first successful
// retrieval.
type Source struct {
	envVar string
	lookup func(string) (string, bool)
	prompt func() (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a token source that checks envVar before prompting on
// the terminal.
func NewSource(envVar string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		lookup: os.LookupEnv,
		prompt: terminalPrompt(os.Stdin, os.Stderr),
	}
}

// Get returns the cached token or resolves it on first use. Whitespace-only
// tokens are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = strings.TrimSpace(value)
				return
			}
		}
		if s.prompt == nil {
			s.err = errors.New("gateway token required and no terminal available")
			return
		}
		token, err := s.prompt()
		if err != nil {
			if s.envVar != "" {
				s.err = fmt.Errorf("%w; set %s", err, s.envVar)
			} else {
				s.err = err
			}
			return
		}
		if strings.TrimSpace(token) == "" {
			s.err = errors.New("gateway token cannot be empty")
			return
		}
		s.value = strings.TrimSpace(token)
	})
	return s.value, s.err
}

func terminalPrompt(in *os.File, out io.Writer) func() (string, error) {
	return func() (string, error) {
		if !term.IsTerminal(int(in.Fd())) {
			return "", errors.New("gateway token required and no terminal available")
		}
		fmt.Fprint(out, "Enter gateway token: ")
		raw, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return string(raw), nil
	}
}
