// Command batchctl operates a running calendar-push deployment.
//
// Usage:
//
//	batchctl status
//	batchctl process
//	batchctl logs --limit 10
//	batchctl emit --id evt-42 --title "Science Fair" --date 2026-11-03
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/calendar-push/internal/queue"
	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

type options struct {
	apiURL     string
	adminToken string
}

func main() {
	_ = godotenv.Load(".env")

	opts := &options{}
	root := &cobra.Command{
		Use:           "batchctl",
		Short:         "Inspect and drive the calendar push batch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", envOr("CALENDAR_PUSH_API_URL", "http://localhost:8080"), "calendar-push API base URL")
	root.PersistentFlags().StringVar(&opts.adminToken, "token", os.Getenv("ADMIN_TOKEN"), "admin bearer token")

	root.AddCommand(statusCmd(opts))
	root.AddCommand(processCmd(opts))
	root.AddCommand(historyCmd(opts, "logs", "Show recent batch deliveries"))
	root.AddCommand(historyCmd(opts, "failures", "Show recent failed delivery attempts"))
	root.AddCommand(emitCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued notifications and their scheduled delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), opts, "GET", "/v1/batch/status", nil)
		},
	}
}

func processCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Deliver everything queued now, ignoring the batch window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), opts, "POST", "/v1/batch/process", nil)
		},
	}
}

func historyCmd(opts *options, name, short string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := map[string]string{"limit": fmt.Sprint(limit)}
			return call(cmd.Context(), opts, "GET", "/v1/batch/"+name, query)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to show (1-100)")
	return cmd
}

func emitCmd() *cobra.Command {
	var (
		rabbitURL string
		msg       queue.EventCreatedMessage
	)
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Publish a calendar event onto the intake queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(rabbitURL) == "" {
				return fmt.Errorf("RABBITMQ_URL or --rabbitmq-url is required")
			}
			if msg.CorrelationID == "" {
				msg.CorrelationID = uuid.NewString()
			}
			if err := msg.Validate(); err != nil {
				return err
			}

			mq, err := queue.NewRabbitMQ(rabbitURL)
			if err != nil {
				return err
			}
			publisher := queue.NewRabbitMQPublisher(mq)
			defer publisher.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := publisher.Publish(ctx, queue.EventsCreatedQueue, msg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %s (correlation %s)\n", msg.EventID, msg.CorrelationID)
			return nil
		},
	}
	cmd.Flags().StringVar(&rabbitURL, "rabbitmq-url", os.Getenv("RABBITMQ_URL"), "RabbitMQ connection URL")
	cmd.Flags().StringVar(&msg.EventID, "id", "", "calendar event id")
	cmd.Flags().StringVar(&msg.EventTitle, "title", "", "calendar event title")
	cmd.Flags().StringVar(&msg.EventDate, "date", "", "calendar event date")
	cmd.Flags().StringVar(&msg.CorrelationID, "correlation-id", "", "correlation id, generated when empty")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func call(ctx context.Context, opts *options, method, path string, query map[string]string) error {
	req := resty.New().
		SetBaseURL(strings.TrimRight(opts.apiURL, "/")).
		SetTimeout(requestTimeout).
		R().
		SetContext(ctx).
		SetQueryParams(query)
	if opts.adminToken != "" {
		req.SetAuthToken(opts.adminToken)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	var body any
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		fmt.Fprintln(os.Stdout, resp.String())
		return nil
	}
	out, _ := json.MarshalIndent(body, "", "  ")
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
