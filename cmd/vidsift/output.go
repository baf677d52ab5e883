package main

import (
	"fmt"
	"os"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + ansiReset
}

// printTagged writes a colored, glyph-prefixed line to stderr so command
// output on stdout stays machine-readable.
func printTagged(color, glyph, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printTagged(ansiGreen, "✓", format, args...) }

func printError(format string, args ...any) { printTagged(ansiRed, "✗", format, args...) }

func printWarning(format string, args ...any) { printTagged(ansiYellow, "!", format, args...) }

func printStep(format string, args ...any) { printTagged(ansiCyan, ">", format, args...) }

func printStatus(label, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(ansiBold, label+":"), fmt.Sprintf(format, args...))
}
