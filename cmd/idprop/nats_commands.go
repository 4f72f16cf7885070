package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/idproperty/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to action events straight from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to action events for an account",
		ArgsUsage: "[account_address]",
		Description: `Subscribe to action lifecycle events published to NATS JetStream.

Events for one account are published to the subject actions.{account}, with
the address lowercased. Without an account every event is streamed.

Example:
  idprop nats subscribe 0x5b38da6a701c568545dcfcb03fcb875f56beddc4 --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "idprop-cli",
			},
			&cli.BoolFlag{
				Name:  "replay",
				Usage: "Deliver retained events instead of only new ones",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
		},
		Action: func(c *cli.Context) error {
			filters, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			subject := natspkg.StreamSubjects
			if account := c.Args().First(); account != "" {
				subject = natspkg.Subject(account)
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("replay") {
				consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			return streamActions(c.String("nats-url"), subject, consumerConfig, filters, c.Bool("json"))
		},
	}
}

// streamActions connects to NATS and prints action events until interrupted.
func streamActions(natsURL, subject string, consumerConfig jetstream.ConsumerConfig, filters []*gojq.Code, jsonOutput bool) error {
	nc, js, err := natspkg.Connect(natsURL, "idprop-cli")
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(os.Stderr, "   NATS: %s\n", natsURL)
		if consumerConfig.Durable != "" {
			fmt.Fprintf(os.Stderr, "   Consumer: %s (durable)\n", consumerConfig.Durable)
		}
		fmt.Fprintf(os.Stderr, "\nWaiting for actions... (Ctrl-C to exit)\n\n")
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.ActionEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				msg.Ack()
				continue
			}
			msg.Ack()

			if !matchesJQ(filters, &event) {
				continue
			}
			count++

			if jsonOutput {
				fmt.Fprintln(stdout, string(msg.Data()))
				continue
			}
			fmt.Fprintf(stdout, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(stdout, "Action #%d\n", count)
			fmt.Fprintf(stdout, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(stdout, "ID:           %s\n", event.ActionID)
			fmt.Fprintf(stdout, "Kind:         %s\n", event.Kind)
			fmt.Fprintf(stdout, "Account:      %s\n", event.Account)
			fmt.Fprintf(stdout, "Phase:        %s\n", event.Phase)
			if event.TxHash != "" {
				fmt.Fprintf(stdout, "Tx:           %s\n", event.TxHash)
			}
			if event.Error != "" {
				fmt.Fprintf(stdout, "Error:        %s\n", event.Error)
			}
			fmt.Fprintf(stdout, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))

		case <-sigChan:
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\n\n✅ Received %d actions\n", count)
			}
			return nil
		}
	}
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the ACTIONS JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage
- Stream configuration

Example:
  idprop nats inspect-stream`,
		Action: func(c *cli.Context) error {
			nc, js, err := natspkg.Connect(c.String("nats-url"), "idprop-cli")
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}
			fmt.Fprintf(stdout, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(stdout, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(stdout, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(stdout, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(stdout, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(stdout, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(stdout, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(stdout, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(stdout, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(stdout, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(stdout, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
