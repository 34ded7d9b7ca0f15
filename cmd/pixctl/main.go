package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:  "pixctl",
		Usage: "PIX merchant BFA operator CLI",
		Description: `Inspect PIX keys and gateway transactions without going through the dashboard.

classify runs locally; status and watch talk to the payment gateway directly.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Writer:  out,
		Commands: []*cli.Command{
			classifyCommand(),
			statusCommand(),
			watchCommand(),
			tokenCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "gateway-url",
				Usage:   "Payment gateway base URL",
				EnvVars: []string{"GATEWAY_URL"},
				Value:   "http://localhost:8081",
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Payment gateway API key",
				EnvVars: []string{"GATEWAY_API_KEY"},
			},
			&cli.DurationFlag{
				Name:    "http-timeout",
				Usage:   "Timeout for each gateway request",
				EnvVars: []string{"HTTP_TIMEOUT"},
				Value:   defaultHTTPTimeout,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for diagnostics on stderr",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
