// Package repl reads IR scripts interactively. Lines are collected until
// the braces of a unit balance, then the unit is built and printed.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"tracejit/internal/asm"
	"tracejit/internal/config"
	"tracejit/internal/errors"
	"tracejit/internal/ir"
)

const (
	PROMPT      = ">> "
	CONTINUE    = ".. "
	sessionName = "<repl>"
)

// Start runs the loop until in is exhausted.
func Start(in io.Reader, out io.Writer, opts config.Options) {
	scanner := bufio.NewScanner(in)
	reporter := errors.NewErrorReporter(sessionName)

	var pending strings.Builder
	depth := 0
	for {
		if depth > 0 {
			fmt.Fprint(out, CONTINUE)
		} else {
			fmt.Fprint(out, PROMPT)
		}
		if !scanner.Scan() {
			return
		}

		line := scanner.Text()
		if depth == 0 && strings.TrimSpace(line) == "" {
			continue
		}
		pending.WriteString(line)
		pending.WriteByte('\n')
		depth += braceDelta(line)
		if depth > 0 {
			continue
		}

		src := pending.String()
		pending.Reset()
		depth = 0
		eval(src, out, reporter, opts)
	}
}

func eval(src string, out io.Writer, reporter *errors.ErrorReporter, opts config.Options) {
	script, err := asm.Parse(sessionName, []byte(src))
	if err == nil {
		var res *asm.Result
		if res, err = asm.Replay(script, opts); err == nil {
			for _, w := range res.Warnings {
				fmt.Fprint(out, reporter.FormatError(w))
			}
			fmt.Fprint(out, ir.Print(res.Unit))
			return
		}
	}
	if ce, ok := errors.As(err); ok {
		fmt.Fprint(out, reporter.FormatError(ce))
		return
	}
	fmt.Fprintln(out, err)
}

// braceDelta counts braces outside comments.
func braceDelta(line string) int {
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	return strings.Count(line, "{") - strings.Count(line, "}")
}
