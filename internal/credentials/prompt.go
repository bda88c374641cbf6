package credentials

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNotInteractive is returned by a Prompter that has no terminal to ask.
var ErrNotInteractive = errors.New("no terminal to read credentials from")

// Prompter asks the user for credentials.
type Prompter interface {
	Prompt(ctx context.Context, backend string) (Credentials, error)
}

// TerminalPrompter reads a login and a hidden password from a terminal.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stderr and reads stdin.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TerminalPrompter) Prompt(ctx context.Context, backend string) (Credentials, error) {
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return Credentials{}, ErrNotInteractive
	}

	fmt.Fprintf(p.Out, "%s login: ", backend)
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return Credentials{}, err
	}

	fmt.Fprint(p.Out, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(p.Out)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Login: strings.TrimSpace(line), Password: string(password)}, nil
}
