package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/auth"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/gateway"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/pixkey"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/poller"

	"github.com/urfave/cli/v2"
)

const defaultHTTPTimeout = 10 * time.Second

// ============================================================
// classify
// ============================================================

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify, mask and normalize a PIX key",
		ArgsUsage: "KEY",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "previous-type",
				Usage: "Type detected before the last keystroke (cpf, cnpj, phone, ...)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("key is required")
			}

			raw := c.Args().Get(0)
			key := pixkey.Classify(raw)
			if prev := c.String("previous-type"); prev != "" {
				key = pixkey.Edit(domain.PixKey{Type: domain.KeyType(prev)}, raw)
			}

			if c.Bool("json") {
				return writeJSON(c, domain.ClassifyResponse{PixKey: key, Submittable: key.Submittable()})
			}
			fmt.Fprintf(c.App.Writer, "Type:        %s\n", key.Type)
			fmt.Fprintf(c.App.Writer, "Normalized:  %s\n", key.Normalized)
			fmt.Fprintf(c.App.Writer, "Masked:      %s\n", key.Masked)
			fmt.Fprintf(c.App.Writer, "Submittable: %t\n", key.Submittable())
			return nil
		},
	}
}

// ============================================================
// status
// ============================================================

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Fetch the current gateway status of a transaction",
		ArgsUsage: "TRANSACTION_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("transaction id is required")
			}
			transactionID := c.Args().Get(0)

			client := newGatewayClient(c)
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("http-timeout"))
			defer cancel()

			status, err := client.GetStatus(ctx, transactionID)
			if err != nil {
				return fmt.Errorf("failed to fetch status: %w", err)
			}

			if c.Bool("json") {
				return writeJSON(c, domain.StatusResult{TransactionID: transactionID, Status: status, Terminal: status.Terminal()})
			}
			fmt.Fprintf(c.App.Writer, "%s %s\n", transactionID, status)
			return nil
		},
	}
}

// ============================================================
// watch
// ============================================================

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Poll a transaction until the gateway reports a final status",
		ArgsUsage: "TRANSACTION_ID",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Value:   poller.DefaultInterval,
				Usage:   "Time between status checks",
				EnvVars: []string{"POLL_INTERVAL"},
			},
			&cli.DurationFlag{
				Name:    "max-duration",
				Aliases: []string{"t"},
				Usage:   "Give up after this long (0 = wait forever)",
				EnvVars: []string{"POLL_MAX_DURATION"},
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("transaction id is required")
			}
			transactionID := c.Args().Get(0)
			jsonOutput := c.Bool("json")

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := observability.NewLogger(c.String("log-level"))
			defer logger.Sync()

			p := poller.New(newGatewayClient(c),
				poller.Config{Interval: c.Duration("interval"), MaxDuration: c.Duration("max-duration")},
				observability.NewMetrics(),
				logger,
				poller.WithUpdateHandler(func(u poller.Update) {
					if jsonOutput {
						writeJSON(c, domain.StatusResult{TransactionID: u.RemoteID, Status: u.Status, Terminal: u.Status.Terminal()})
						return
					}
					fmt.Fprintf(c.App.Writer, "%s %s %s\n", time.Now().Format(time.RFC3339), u.RemoteID, u.Status)
				}),
			)

			session := p.Start(ctx, transactionID)
			status, err := session.Result()
			switch {
			case errors.Is(err, domain.ErrPollingCancelled):
				return fmt.Errorf("stopped before a final status after %d checks", session.Ticks())
			case err != nil:
				return err
			}
			if status == domain.StatusFailed {
				return fmt.Errorf("transaction %s failed", transactionID)
			}
			return nil
		},
	}
}

// ============================================================
// token
// ============================================================

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Sign a development access token for a merchant",
		ArgsUsage: "MERCHANT_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "jwt-secret",
				Usage:    "HS256 secret shared with the BFA",
				EnvVars:  []string{"JWT_SECRET"},
				Required: true,
			},
			&cli.StringFlag{
				Name:  "cnpj",
				Usage: "Merchant CNPJ claim",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Value: time.Hour,
				Usage: "Token lifetime",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("merchant id is required")
			}
			token, err := auth.NewVerifier(c.String("jwt-secret")).Issue(c.Args().Get(0), c.String("cnpj"), c.Duration("ttl"))
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

// ============================================================
// helpers
// ============================================================

func newGatewayClient(c *cli.Context) *gateway.Client {
	logger := observability.NewLogger(c.String("log-level"))
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: 200 * time.Millisecond, MaxConcurrency: 1}
	return gateway.NewClient(
		&http.Client{Timeout: c.Duration("http-timeout")},
		c.String("gateway-url"),
		c.String("api-key"),
		resilience.NewCircuitBreaker("pixctl-gateway", logger),
		cfg,
		logger,
	)
}

func writeJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
