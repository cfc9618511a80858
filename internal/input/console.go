package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Console reads answers line by line and writes prompts to out
type Console struct {
	in  *bufio.Reader
	out io.Writer
	fd  int // terminal fd for masked input, -1 when not a terminal
}

// NewConsole builds a console on stdin/stdout
func NewConsole() *Console {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fd = -1
	}
	return &Console{in: bufio.NewReader(os.Stdin), out: os.Stdout, fd: fd}
}

// NewConsoleIO builds a console on arbitrary streams, passwords are read as plain lines
func NewConsoleIO(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out, fd: -1}
}

func (c *Console) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && (r.err != io.EOF || r.line == "") {
			if r.err == io.EOF {
				return "", ErrCancelled
			}
			return "", r.err
		}
		return strings.TrimSpace(r.line), nil
	}
}

// ChooseFromList prints a numbered menu; "c" cancels, empty input picks the default
func (c *Console) ChooseFromList(ctx context.Context, prompt string, options []Option) (int, error) {
	def := -1
	for {
		fmt.Fprintf(c.out, "\n%s\n", prompt)
		for i, o := range options {
			line := fmt.Sprintf(" %d: %s", i+1, o.Label)
			if o.Description != "" {
				line += " - " + o.Description
			}
			if o.Disabled {
				line += " (unavailable: " + o.Reason + ")"
			}
			if o.Default && !o.Disabled {
				def = i
				line += " [default]"
			}
			fmt.Fprintln(c.out, line)
		}
		fmt.Fprintln(c.out, " C: Cancel")
		fmt.Fprint(c.out, "Choose from the menu: ")

		answer, err := c.readLine(ctx)
		if err != nil {
			return -1, err
		}
		if strings.EqualFold(answer, "c") {
			return -1, ErrCancelled
		}
		if answer == "" && def >= 0 {
			return def, nil
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < 1 || n > len(options) {
			fmt.Fprintln(c.out, "Invalid choice")
			continue
		}
		if options[n-1].Disabled {
			fmt.Fprintf(c.out, "%s is not available: %s\n", options[n-1].Label, options[n-1].Reason)
			continue
		}
		return n - 1, nil
	}
}

// PromptYesNo asks until y or n is given; empty input returns def
func (c *Console) PromptYesNo(ctx context.Context, prompt string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(c.out, "%s (%s) ", prompt, hint)
		answer, err := c.readLine(ctx)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

// RequestString asks for one line of free text
func (c *Console) RequestString(ctx context.Context, prompt string) (string, error) {
	fmt.Fprintf(c.out, "%s: ", prompt)
	return c.readLine(ctx)
}

// ReadPassword reads masked input when attached to a terminal
func (c *Console) ReadPassword(ctx context.Context, prompt string) (string, error) {
	fmt.Fprintf(c.out, "%s: ", prompt)
	if c.fd < 0 {
		return c.readLine(ctx)
	}
	b, err := term.ReadPassword(c.fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Show prints a label/value pair
func (c *Console) Show(label, value string) {
	fmt.Fprintf(c.out, " %-20s %s\n", label+":", value)
}
