// Command gatecheck is a terminal console for a single door: scan or type a
// ticket, see who it belongs to, confirm to admit.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ticket-verifier/cmd"
	"ticket-verifier/config"
	"ticket-verifier/internal/console"
	"ticket-verifier/internal/verification"

	"github.com/spf13/pflag"
	"golang.org/x/term"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configFile, operator string

	flagSet := pflag.NewFlagSet("gatecheck", pflag.ContinueOnError)
	flagSet.StringVar(&configFile, "config", "", "JSON config file (comments allowed), same keys as the environment")
	flagSet.StringVar(&operator, "operator", "", "operator name recorded with each verification (default: $USER)")
	authority := flagSet.String("authority", "", "ticket backend base URL (overrides AUTHORITY_BASE_URL)")
	camera := flagSet.String("camera", "", "camera snapshot URL (overrides CAMERA_SNAPSHOT_URL)")
	device := flagSet.String("device", "", "line scanner device path (overrides SCANNER_DEVICE)")
	askToken := flagSet.Bool("ask-token", false, "prompt for the operator token instead of using AUTHORITY_TOKEN")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	if configFile != "" {
		os.Setenv("GATE_CONFIG_FILE", configFile)
	}
	cfg := config.LoadConfig()
	if *authority != "" {
		cfg.AuthorityBaseURL = *authority
	}
	if *camera != "" {
		cfg.CameraSnapshotURL = *camera
	}
	if *device != "" {
		cfg.ScannerDevice = *device
	}
	if operator == "" {
		operator = os.Getenv("USER")
	}

	token := cfg.AuthorityToken
	if *askToken || (token == "" && term.IsTerminal(int(os.Stdin.Fd()))) {
		t, err := readToken()
		if err != nil {
			return err
		}
		token = t
	}

	client, _, err := cmd.NewAuthority(cfg)
	if err != nil {
		return err
	}

	session, err := verification.NewSession(verification.Options{
		Operator: operator,
		Token:    token,
		Lookup:   client,
		Verifier: client,
		Scanner:  cmd.NewScannerFactory(cfg),
	})
	if err != nil {
		return err
	}
	defer session.Close()

	session.Subscribe(func(st verification.State) {
		fmt.Println(console.Render(st))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println(console.Render(session.State()))
	fmt.Println("Type 'help' for commands.")
	console.Run(ctx, session, bufio.NewScanner(os.Stdin))
	return nil
}

func readToken() (string, error) {
	fmt.Fprint(os.Stderr, "Operator token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `gatecheck - verify event tickets at the door.

Scans QR codes from a camera or reads a barcode scanner, looks each ticket up
in the ticket backend and marks it used once you confirm.

Usage:
  gatecheck [flags]

Flags:
%s`, flagSet.FlagUsages())
}
