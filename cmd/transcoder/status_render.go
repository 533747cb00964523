package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"transcoder/internal/queue"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusStyles = map[statusKind]struct{ label, color string }{
	statusInfo:  {"INFO", "\x1b[34m"},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

const (
	ansiReset        = "\x1b[0m"
	statusIndent     = "  "
	statusLabelWidth = 20
)

// renderStatusLine formats "  Label:   [KIND] message" with the label padded
// to a fixed column.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style := statusStyles[kind]
	tag := "[" + style.label + "]"
	if message != "" {
		tag += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", tag)
	if colorize {
		return style.color + line + ansiReset
	}
	return line
}

func stateKind(state queue.State) statusKind {
	switch state {
	case queue.StateSucceeded:
		return statusOK
	case queue.StateErrored:
		return statusError
	case queue.StateInProgress, queue.StateQueued:
		return statusWarn
	}
	return statusInfo
}

func colorState(state queue.State, colorize bool) string {
	if !colorize {
		return string(state)
	}
	return statusStyles[stateKind(state)].color + string(state) + ansiReset
}

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
