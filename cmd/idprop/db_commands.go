package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/idproperty/service/db"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func listActionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-actions",
		Usage:     "List an account's recorded actions",
		Aliases:   []string{"ls"},
		ArgsUsage: "<account>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "kind",
				Aliases: []string{"k"},
				Usage:   "Filter by action kind (transfer, register_investor, ...)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of actions",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			account := c.Args().First()

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			records, err := store.ListActionsByAccount(c.Context, db.ListActionsParams{
				Account: account,
				Kind:    txn.Kind(c.String("kind")),
				Limit:   int32(c.Int("limit")),
			})
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(records)
			}

			w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tPHASE\tTX HASH\tCREATED")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.ID,
					rec.Kind,
					rec.Phase,
					shortHash(rec.TxHash),
					rec.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d actions\n", len(records))
			return nil
		},
	}
}

func getActionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-action",
		Usage:     "Get an action by id or transaction hash",
		Aliases:   []string{"get"},
		ArgsUsage: "<id|tx-hash>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: action id or transaction hash")
			}
			arg := c.Args().First()

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			var rec *txn.Record
			if strings.HasPrefix(arg, "0x") {
				rec, err = store.GetActionByHash(c.Context, arg)
			} else {
				id, perr := uuid.Parse(arg)
				if perr != nil {
					return fmt.Errorf("invalid action id: %w", perr)
				}
				rec, err = store.GetAction(c.Context, id)
			}
			if err != nil {
				return fmt.Errorf("failed to get action: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(rec)
			}

			fmt.Fprintf(stdout, "ID:       %s\n", rec.ID)
			fmt.Fprintf(stdout, "Kind:     %s\n", rec.Kind)
			fmt.Fprintf(stdout, "Account:  %s\n", rec.Account)
			fmt.Fprintf(stdout, "Phase:    %s\n", rec.Phase)
			if rec.TxHash != "" {
				fmt.Fprintf(stdout, "Tx Hash:  %s\n", rec.TxHash)
			}
			if rec.Block != 0 {
				fmt.Fprintf(stdout, "Block:    %d\n", rec.Block)
			}
			if rec.Error != "" {
				fmt.Fprintf(stdout, "Error:    %s\n", rec.Error)
			}
			fmt.Fprintf(stdout, "Created:  %s\n", rec.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(stdout, "Updated:  %s\n", rec.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func pruneActionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete finished actions older than the retention window",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "older-than",
				Usage:   "Retention window",
				Value:   90 * 24 * time.Hour,
				EnvVars: []string{"HISTORY_RETENTION"},
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			retention := c.Duration("older-than")
			if retention < time.Hour {
				return fmt.Errorf("older-than must be at least 1h")
			}
			cutoff := time.Now().Add(-retention)

			if !c.Bool("force") {
				fmt.Printf("Delete finished actions created before %s? (yes/no): ", cutoff.Format(time.RFC3339))
				var response string
				fmt.Scanln(&response)
				if response != "yes" {
					fmt.Println("Cancelled")
					return nil
				}
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			n, err := store.DeleteActionsOlderThan(c.Context, cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "✓ Deleted %d actions\n", n)
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := db.Connect(context.Background(), dbURL)
	if err != nil {
		return nil, nil, err
	}

	return db.NewStore(pool, nil), pool.Close, nil
}
