package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/idproperty/client"
	"github.com/urfave/cli/v2"
)

func sseCommands() *cli.Command {
	return &cli.Command{
		Name:  "sse",
		Usage: "Server-Sent Events (SSE) streaming commands",
		Subcommands: []*cli.Command{
			streamCommand(),
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream action events via SSE (HTTP)",
		ArgsUsage: "[account_address]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
			&cli.BoolFlag{
				Name:  "terminal-only",
				Usage: "Only show events for finished actions",
			},
		},
		Action: func(c *cli.Context) error {
			account := c.Args().First()
			jsonOutput := c.Bool("json")
			terminalOnly := c.Bool("terminal-only")

			filters, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			// Create context that cancels on interrupt
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					cancel()
				case <-ctx.Done():
				}
			}()

			if !jsonOutput {
				if account != "" {
					fmt.Fprintf(os.Stderr, "Connected to SSE stream for account: %s\n", account)
				} else {
					fmt.Fprintf(os.Stderr, "Connected to SSE stream for all accounts\n")
				}
				fmt.Fprintf(os.Stderr, "Streaming actions... (Ctrl+C to stop)\n\n")
			}

			err = cl.Stream(ctx, account, func(e *client.ActionEvent) error {
				if terminalOnly && !e.Terminal() {
					return nil
				}
				if !matchesJQ(filters, e) {
					return nil
				}
				if jsonOutput {
					data, err := json.Marshal(e)
					if err != nil {
						return err
					}
					fmt.Fprintln(stdout, string(data))
					return nil
				}
				printEvent(e)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "\nDisconnected\n")
				}
				return nil
			}
			return err
		},
	}
}

func printEvent(e *client.ActionEvent) {
	fmt.Fprintln(stdout, rule)
	fmt.Fprintf(stdout, "Action:     %s\n", e.ActionID)
	fmt.Fprintf(stdout, "Kind:       %s\n", e.Kind)
	fmt.Fprintf(stdout, "Account:    %s\n", e.Account)
	fmt.Fprintf(stdout, "Phase:      %s\n", e.Phase)
	if e.TxHash != "" {
		fmt.Fprintf(stdout, "Tx:         %s\n", e.TxHash)
	}
	if e.Block != 0 {
		fmt.Fprintf(stdout, "Block:      %d\n", e.Block)
	}
	if e.Error != "" {
		fmt.Fprintf(stdout, "Error:      %s\n", e.Error)
	}
	if !e.PublishedAt.IsZero() {
		fmt.Fprintf(stdout, "Published:  %s\n", e.PublishedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(stdout)
}
