// Package console is a line-oriented gate console for doors without a
// browser: the operator types commands, the session prints every state
// change as it happens.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"ticket-verifier/internal/status"
	"ticket-verifier/internal/verification"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// gate is the part of a verification session the console drives.
type gate interface {
	StartScanning(ctx context.Context) error
	StopScanning() error
	SubmitManualIdentifier(ctx context.Context, text string) error
	ConfirmVerification(ctx context.Context) error
	Reset() error
	State() verification.State
}

const helpText = `Commands:
  scan          start the camera and wait for a code
  stop          stop scanning
  enter <id>    look up a ticket by its ID or code text
  confirm       admit the presented ticket
  reset         clear the screen for the next ticket
  status        show the current ticket
  quit          leave the console`

// Run reads commands until EOF, quit or ctx is done. State changes are
// printed by the session subscription, so commands only report refusals.
func Run(ctx context.Context, g gate, scanner *bufio.Scanner) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("gate [%s]> ", g.State().Phase))
		if !scanner.Scan() {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")

		var err error
		switch strings.ToLower(cmd) {
		case "help", "?":
			printlnFn(helpText)

		case "scan", "s":
			err = g.StartScanning(ctx)

		case "stop":
			err = g.StopScanning()

		case "enter", "e":
			arg = strings.TrimSpace(arg)
			if arg == "" {
				printlnFn("Usage: enter <ticket id>")
				continue
			}
			err = g.SubmitManualIdentifier(ctx, arg)

		case "confirm", "c":
			err = g.ConfirmVerification(ctx)

		case "reset", "r":
			err = g.Reset()

		case "status":
			printlnFn(Render(g.State()))

		case "exit", "quit", "q":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd, "(type help)")
		}

		if msg := refusal(err); msg != "" {
			printlnFn(msg)
		}
	}
}

// refusal turns an action error into a line for the operator. Camera
// failures are already shown through the session state.
func refusal(err error) string {
	switch {
	case err == nil, errors.Is(err, status.ErrCameraUnavailable):
		return ""
	case errors.Is(err, status.ErrBusy):
		return "Still working on the last request, please wait."
	case errors.Is(err, status.ErrInvalidPhase):
		return "Nothing to confirm. Scan or enter a ticket first."
	case errors.Is(err, status.ErrRateLimited):
		return "Too many manual entries. Wait a moment and try again."
	case errors.Is(err, status.ErrSessionClosed):
		return "Console closed."
	default:
		return "Error: " + err.Error()
	}
}
