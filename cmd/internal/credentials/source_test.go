package credentials

import (
	"errors"
	"testing"
)

func newTestSource(env map[string]string, prompt func() (string, error)) *Source {
	return &Source{
		envVar: "WAGER_TOKEN",
		lookup: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
		prompt: prompt,
	}
}

func TestSourcePrefersEnvironment(t *testing.T) {
	prompted := false
	src := newTestSource(map[string]string{"WAGER_TOKEN": " abc "}, func() (string, error) {
		prompted = true
		return "", nil
	})
	token, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if token != "abc" || prompted {
		t.Fatalf("expected env token without prompt, got %q (prompted=%t)", token, prompted)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	src := newTestSource(map[string]string{"WAGER_TOKEN": "  "}, nil)
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected error for empty env token")
	}
}

func TestSourcePromptsOnce(t *testing.T) {
	calls := 0
	src := newTestSource(nil, func() (string, error) {
		calls++
		return "typed", nil
	})
	for i := 0; i < 2; i++ {
		token, err := src.Get()
		if err != nil || token != "typed" {
			t.Fatalf("get: %q %v", token, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected single prompt, got %d", calls)
	}
}

func TestSourcePromptFailure(t *testing.T) {
	src := newTestSource(nil, func() (string, error) { return "", errors.New("no tty") })
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected prompt failure to surface")
	}
}
