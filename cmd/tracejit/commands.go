package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	pkgerrors "github.com/pkg/errors"
	"github.com/tliron/commonlog"

	"tracejit/internal/asm"
	"tracejit/internal/config"
	"tracejit/internal/errors"
	"tracejit/internal/ir"
)

var errFailed = pkgerrors.New("build failed")

var log = commonlog.GetLogger("tracejit")

func runBuild(path string, opts config.Options) error {
	startTime := time.Now()

	source, res, ok := replay(path, opts)
	if !ok {
		color.Red("Build failed after %s", formatDuration(time.Since(startTime)))
		return errFailed
	}
	report(path, source, res.Warnings)
	log.Infof("%s: %d blocks laid out, %d values, %d instructions",
		path, len(res.Unit.Layout()), res.Unit.NumValues(), res.Unit.NumInstrs())

	fmt.Print(ir.Print(res.Unit))
	if showEffects {
		printEffects(res.Unit)
	}

	color.Green("Successfully built %s in %s", path, formatDuration(time.Since(startTime)))
	return nil
}

func runCheck(paths []string, opts config.Options) error {
	startTime := time.Now()
	failed := 0
	for _, path := range paths {
		source, res, ok := replay(path, opts)
		if !ok {
			failed++
			continue
		}
		report(path, source, res.Warnings)
		errs := ir.Check(res.Unit)
		for _, err := range errs {
			printError(path, source, err)
		}
		if len(errs) > 0 {
			failed++
		}
	}

	duration := formatDuration(time.Since(startTime))
	if failed > 0 {
		color.Red("%d of %d units failed after %s", failed, len(paths), duration)
		return errFailed
	}
	color.Green("Checked %d units in %s", len(paths), duration)
	return nil
}

// replay parses and replays the script at path, printing any error. The
// source is returned for rendering later diagnostics.
func replay(path string, opts config.Options) (string, *asm.Result, bool) {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read file: %v\n", err)
		return "", nil, false
	}
	script, err := asm.Parse(path, source)
	if err != nil {
		printError(path, string(source), err)
		return string(source), nil, false
	}
	res, err := asm.Replay(script, opts)
	if err != nil {
		printError(path, string(source), err)
		return string(source), nil, false
	}
	return string(source), res, true
}

func report(path, source string, warnings []*errors.CompilerError) {
	for _, w := range warnings {
		printError(path, source, w)
	}
}

func printError(path, source string, err error) {
	ce, ok := errors.As(err)
	if !ok {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return
	}
	fmt.Print(errors.NewErrorReporter(path).FormatError(ce))
	if ce.Location.Line > 0 {
		fmt.Print(formatSourceLine(ce.Location.Line, ce.Location.Column, source))
	}
}

func printEffects(u *ir.Unit) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Println(bold("effects:"))
	for _, b := range ir.RPO(u) {
		for _, inst := range b.Instrs() {
			var parts []string
			for _, e := range inst.Effects() {
				parts = append(parts, e.String())
			}
			mark := " "
			if inst.HasSideEffects() {
				mark = "*"
			}
			fmt.Printf(" %s%s %-14s %s\n", mark, b, inst.Op(), strings.Join(parts, " "))
		}
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return fmt.Sprintf("%.2fmin", d.Minutes())
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1000000.0)
	case d >= time.Microsecond:
		return fmt.Sprintf("%.1fμs", float64(d.Nanoseconds())/1000.0)
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}

// formatSourceLine renders the offending line with a caret under column.
func formatSourceLine(line, column int, source string) string {
	lines := strings.Split(source, "\n")
	if line-1 >= len(lines) || line-1 < 0 {
		return ""
	}
	marker := strings.Repeat(" ", max(0, column-1)) + "^"

	bold := color.New(color.Bold).SprintFunc()
	lineNumberWidth := len(fmt.Sprintf("%d", line))
	if lineNumberWidth < 3 {
		lineNumberWidth = 3
	}
	indent := strings.Repeat(" ", lineNumberWidth)

	return fmt.Sprintf("%3d│%s\n%s│%s\n\n", line, lines[line-1], indent, bold(marker))
}
