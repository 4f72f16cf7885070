package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/brojonat/idproperty/client"
	"github.com/brojonat/idproperty/service/format"
	"github.com/urfave/cli/v2"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

func apiCommands() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "HTTP client commands for interacting with the dashboard server",
		Subcommands: []*cli.Command{
			propertyCommand(),
			tokenCommand(),
			limitsCommand(),
			accountCommand(),
			investorCommand(),
			checkTransferCommand(),
			transferCommand(),
			actionCommand(),
			historyCommand(),
			awaitCommand(),
		},
	}
}

func propertyCommand() *cli.Command {
	return &cli.Command{
		Name:  "property",
		Usage: "Show the tokenized property",
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			prop, err := cl.Property(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get property: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(prop)
			}

			fmt.Fprintf(stdout, "Name:         %s\n", prop.Name)
			fmt.Fprintf(stdout, "Location:     %s\n", prop.Location)
			fmt.Fprintf(stdout, "Total Value:  %s\n", prop.Display.TotalValue)
			fmt.Fprintf(stdout, "Total Tokens: %s\n", prop.Display.TotalTokens)
			fmt.Fprintf(stdout, "Token Price:  %s\n", prop.Display.TokenPrice)
			fmt.Fprintf(stdout, "Active:       %v\n", prop.IsActive)
			if prop.LegalDocumentURL != "" {
				fmt.Fprintf(stdout, "Document:     %s\n", prop.LegalDocumentURL)
			}
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Show token metadata and administrators",
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			tok, err := cl.Token(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get token: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(tok)
			}

			fmt.Fprintf(stdout, "Token:          %s (%s)\n", tok.Name, tok.Symbol)
			fmt.Fprintf(stdout, "Address:        %s\n", tok.Address)
			fmt.Fprintf(stdout, "Decimals:       %d\n", tok.Decimals)
			fmt.Fprintf(stdout, "Total Supply:   %s\n", tok.TotalSupply)
			fmt.Fprintf(stdout, "Token Admin:    %s\n", tok.Admin)
			fmt.Fprintf(stdout, "KYC Registry:   %s\n", tok.KYCRegistry)
			fmt.Fprintf(stdout, "Registry Admin: %s\n", tok.RegistryAdmin)
			fmt.Fprintf(stdout, "Investors:      %s\n", tok.TotalInvestors)
			return nil
		},
	}
}

func limitsCommand() *cli.Command {
	return &cli.Command{
		Name:  "limits",
		Usage: "Show the per-investor investment limits",
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			limits, err := cl.Limits(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get limits: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(limits)
			}
			fmt.Fprintf(stdout, "Investment range: %s tokens\n", limits.Display)
			return nil
		},
	}
}

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:      "account",
		Usage:     "Show an address's balance, ownership and KYC status",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "spender",
				Usage: "Also show the allowance granted to this address",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			address := c.Args().First()
			if !format.IsValidAddress(address) {
				return fmt.Errorf("invalid address: %s", address)
			}
			spender := c.String("spender")
			if spender != "" && !format.IsValidAddress(spender) {
				return fmt.Errorf("invalid spender address: %s", spender)
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			acct, err := cl.Account(c.Context, address, spender)
			if err != nil {
				return fmt.Errorf("failed to get account: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(acct)
			}

			fmt.Fprintf(stdout, "Address:   %s\n", acct.Address)
			fmt.Fprintf(stdout, "Balance:   %s\n", acct.DisplayBalance)
			fmt.Fprintf(stdout, "Ownership: %s\n", acct.Ownership)
			fmt.Fprintf(stdout, "Frozen:    %v\n", acct.Frozen)
			fmt.Fprintf(stdout, "Verified:  %v\n", acct.Verified)
			if acct.KYC != nil && acct.KYC.Registered {
				fmt.Fprintf(stdout, "KYC Level: %s\n", acct.KYC.LevelLabel)
				fmt.Fprintf(stdout, "Country:   %s\n", acct.KYC.Country)
				if acct.KYC.Expired {
					fmt.Fprintf(stdout, "Expiry:    expired\n")
				} else {
					fmt.Fprintf(stdout, "Expiry:    %d days remaining\n", acct.KYC.DaysRemaining)
				}
			}
			if acct.Allowance != "" {
				fmt.Fprintf(stdout, "Allowance: %s\n", acct.Allowance)
			}
			return nil
		},
	}
}

func investorCommand() *cli.Command {
	return &cli.Command{
		Name:      "investor",
		Usage:     "Look up an investor in the KYC registry",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "level",
				Usage: "Also check whether the investor meets this KYC level (1-3)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			address := c.Args().First()
			if !format.IsValidAddress(address) {
				return fmt.Errorf("invalid address: %s", address)
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			inv, meets, err := cl.Investor(c.Context, address, c.Int("level"))
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("investor %s not found or not active", format.ShortenAddress(address))
				}
				return fmt.Errorf("failed to look up investor: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(map[string]interface{}{"investor": inv, "meets_level": meets})
			}

			fmt.Fprintf(stdout, "Investor: %s\n", inv.Address)
			fmt.Fprintf(stdout, "Level:    %s\n", inv.Badge.Label)
			fmt.Fprintf(stdout, "Verified: %v\n", inv.Verified)
			fmt.Fprintf(stdout, "Expiry:   %s\n", inv.ExpiryDate)
			fmt.Fprintf(stdout, "Country:  %d\n", inv.CountryCode)
			if meets != nil {
				fmt.Fprintf(stdout, "Meets level %d: %v\n", c.Int("level"), *meets)
			}
			return nil
		},
	}
}

func checkTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "check-transfer",
		Usage:     "Ask the token contract whether a transfer would be allowed",
		ArgsUsage: "FROM TO AMOUNT",
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("requires exactly three arguments: from to amount")
			}
			from, to, amount := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)
			if !format.IsValidAddress(from) || !format.IsValidAddress(to) {
				return fmt.Errorf("from and to must be valid addresses")
			}
			if _, err := format.ParseTokens(amount); err != nil {
				return err
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			check, err := cl.CheckTransfer(c.Context, from, to, amount)
			if err != nil {
				return fmt.Errorf("failed to check transfer: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(check)
			}

			if check.Allowed {
				fmt.Fprintf(stdout, "✓ Transfer allowed\n")
			} else {
				fmt.Fprintf(stdout, "✗ Transfer not allowed: %s\n", check.Reason)
			}
			return nil
		},
	}
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Send tokens from the server's wallet",
		ArgsUsage: "RECIPIENT AMOUNT",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Wait for the transfer to finish",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait when --wait is set",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Value: 2 * time.Second,
				Usage: "How often to poll the action when --wait is set",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: recipient amount")
			}
			recipient, amount := c.Args().Get(0), c.Args().Get(1)
			if !format.IsValidAddress(recipient) {
				return fmt.Errorf("invalid recipient address: %s", recipient)
			}
			if _, err := format.ParseTokens(amount); err != nil {
				return err
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			a, err := cl.Transfer(c.Context, recipient, amount)
			if err != nil {
				return fmt.Errorf("failed to submit transfer: %w", err)
			}

			if c.Bool("wait") {
				if !c.Bool("json") {
					fmt.Fprintf(os.Stderr, "Transfer submitted (%s), waiting...\n", a.ID)
				}
				ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
				defer cancel()
				a, err = pollAction(ctx, cl, a.ID, c.Duration("poll-interval"))
				if err != nil {
					return fmt.Errorf("failed to wait for transfer: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(a)
			}
			printAction(a)
			if a.Phase == client.PhaseFailed {
				return fmt.Errorf("transfer failed: %s", a.Error)
			}
			return nil
		},
	}
}

// pollAction fetches the action until it reaches a terminal phase.
func pollAction(ctx context.Context, cl *client.Client, id string, interval time.Duration) (*client.Action, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a, err := cl.Action(ctx, id)
		if err != nil {
			return nil, err
		}
		if a.Terminal() {
			return a, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func actionCommand() *cli.Command {
	return &cli.Command{
		Name:      "action",
		Usage:     "Show an action by id",
		ArgsUsage: "ACTION_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: action id")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			a, err := cl.Action(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get action: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(a)
			}
			printAction(a)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List an account's actions, newest first",
		ArgsUsage: "ACCOUNT",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   20,
				Usage:   "Maximum number of actions to retrieve (1-100)",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of actions to skip",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account")
			}
			account := c.Args().First()
			if !format.IsValidAddress(account) {
				return fmt.Errorf("invalid account address: %s", account)
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			page, err := cl.History(c.Context, client.HistoryParams{
				Account: account,
				Limit:   c.Int("limit"),
				Offset:  c.Int("offset"),
			})
			if err != nil {
				return fmt.Errorf("failed to list history: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(page)
			}

			w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tPHASE\tTX\tCREATED")
			for _, a := range page.Actions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					a.ID,
					a.Kind,
					a.Phase,
					shortHash(a.TxHash),
					a.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nShowing %d of %d actions\n", page.Count, page.Total)
			return nil
		},
	}
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until an action finishes, following the account's event stream",
		ArgsUsage: "ACCOUNT ACTION_ID",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for the action",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: account action-id")
			}
			account, id := c.Args().Get(0), c.Args().Get(1)

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			// Already finished actions never appear on the stream again.
			if a, err := cl.Action(ctx, id); err == nil && a.Terminal() {
				if c.Bool("json") {
					return outputJSON(a)
				}
				printAction(a)
				return nil
			}

			if !c.Bool("json") {
				fmt.Fprintf(os.Stderr, "Waiting for action %s on %s...\n", id, format.ShortenAddress(account))
			}
			event, err := cl.AwaitAction(ctx, account, id)
			if err != nil {
				return fmt.Errorf("failed to await action: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(event)
			}
			printEvent(event)
			return nil
		},
	}
}

func printAction(a *client.Action) {
	fmt.Fprintln(stdout, rule)
	fmt.Fprintf(stdout, "Action:   %s\n", a.ID)
	fmt.Fprintf(stdout, "Kind:     %s\n", a.Kind)
	fmt.Fprintf(stdout, "Account:  %s\n", a.Account)
	fmt.Fprintf(stdout, "Phase:    %s\n", a.Phase)
	if a.TxHash != "" {
		fmt.Fprintf(stdout, "Tx:       %s\n", a.TxHash)
	}
	if a.Block != 0 {
		fmt.Fprintf(stdout, "Block:    %d\n", a.Block)
	}
	if a.Error != "" {
		fmt.Fprintf(stdout, "Error:    %s\n", a.Error)
	}
	for _, k := range slices.Sorted(maps.Keys(a.Params)) {
		fmt.Fprintf(stdout, "  %s: %s\n", k, a.Params[k])
	}
	fmt.Fprintf(stdout, "Created:  %s\n", a.CreatedAt.Format(time.RFC3339))
	fmt.Fprintln(stdout, rule)
}

func shortHash(h string) string {
	if h == "" {
		return "-"
	}
	return format.ShortenAddress(h)
}
