package input

import (
	"context"
	"errors"
)

// ErrCancelled is returned when the operator backs out of a prompt
var ErrCancelled = errors.New("cancelled by operator")

// Option is one entry of a menu
type Option struct {
	Label       string
	Description string
	// Disabled entries are shown with their reason but cannot be picked
	Disabled bool
	Reason   string
	Default  bool
}

// Service is the operator I/O used by interactive flows
type Service interface {
	// ChooseFromList returns the index of the picked option
	ChooseFromList(ctx context.Context, prompt string, options []Option) (int, error)
	PromptYesNo(ctx context.Context, prompt string, def bool) (bool, error)
	RequestString(ctx context.Context, prompt string) (string, error)
	// ReadPassword reads a value without echoing it
	ReadPassword(ctx context.Context, prompt string) (string, error)
	Show(label, value string)
}

// Choice pairs a menu option with the value it selects
type Choice[T any] struct {
	Option
	Value T
}

// Choose shows choices and returns the selected value
func Choose[T any](ctx context.Context, svc Service, prompt string, choices []Choice[T]) (T, error) {
	var zero T
	if len(choices) == 0 {
		return zero, errors.New("no options to choose from")
	}
	opts := make([]Option, len(choices))
	for i, c := range choices {
		opts[i] = c.Option
	}
	idx, err := svc.ChooseFromList(ctx, prompt, opts)
	if err != nil {
		return zero, err
	}
	if idx < 0 || idx >= len(choices) {
		return zero, ErrCancelled
	}
	return choices[idx].Value, nil
}
