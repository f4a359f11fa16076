package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// prompter reads answers from in and writes questions to out.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int // terminal descriptor behind in, or -1
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
	}
	return p
}

// line asks for a value, returning def when the answer is empty.
func (p *prompter) line(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	input, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", err
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return def, nil
	}
	return input, nil
}

// required repeats the question until a non-empty answer is given.
func (p *prompter) required(label string) (string, error) {
	for {
		v, err := p.line(label+" (required)", "")
		if err != nil {
			return "", err
		}
		if v != "" {
			return v, nil
		}
		fmt.Fprintf(p.out, "  Error: %s is required\n", strings.ToLower(label))
	}
}

// yes asks a y/N question.
func (p *prompter) yes(label string) (bool, error) {
	v, err := p.line(label+" [y/N]", "")
	if err != nil {
		return false, err
	}
	v = strings.ToLower(v)
	return v == "y" || v == "yes", nil
}

// secret reads a value without echo when the input is a terminal, falling back
// to a plain line otherwise.
func (p *prompter) secret(label string) (string, error) {
	if p.fd < 0 {
		return p.line(label, "")
	}
	fmt.Fprintf(p.out, "%s: ", label)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(string(b)), nil
}
