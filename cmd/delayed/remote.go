package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/delayed/client"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
	"github.com/xraph/delayed/stream"
)

// addServerFlag registers --server and returns a constructor for a client
// pointed at it.
func addServerFlag(cmd *cobra.Command) func(opts ...client.Option) (*client.Client, error) {
	server := cmd.Flags().String("server", getenv("DELAYED_SERVER", "http://localhost:8080"), "base URL of a running delayed serve")
	return func(opts ...client.Option) (*client.Client, error) {
		return client.New(*server, opts...)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newEnqueueCmd() *cobra.Command {
	var (
		in time.Duration
		at string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <actor-id> <queue>",
		Short: "Schedule a job on a running server",
		Args:  cobra.ExactArgs(2),
	}
	newClient := addServerFlag(cmd)
	cmd.Flags().DurationVar(&in, "in", 0, "delay before the job becomes eligible")
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 time at which the job becomes eligible")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		q, err := job.ParseQueue(args[1])
		if err != nil {
			return err
		}

		var opts []client.CreateOption
		switch {
		case at != "" && in != 0:
			return fmt.Errorf("--at and --in are mutually exclusive")
		case at != "":
			t, parseErr := time.Parse(time.RFC3339, at)
			if parseErr != nil {
				return fmt.Errorf("invalid --at: %w", parseErr)
			}
			opts = append(opts, client.At(t))
		case in != 0:
			opts = append(opts, client.At(time.Now().Add(in)))
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		j, err := c.Create(cmd.Context(), args[0], q, opts...)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), j)
	}
	return cmd
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
	}
	newClient := addServerFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		jobID, err := id.ParseJobID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		j, err := c.Get(cmd.Context(), jobID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), j)
	}
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Attempt a job now",
		Args:  cobra.ExactArgs(1),
	}
	newClient := addServerFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		jobID, err := id.ParseJobID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.Run(cmd.Context(), jobID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	}
	return cmd
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Dispatch every eligible job now",
		Args:  cobra.NoArgs,
	}
	newClient := addServerFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		n, err := c.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "dispatched %d\n", n)
		return nil
	}
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by state",
		Args:  cobra.NoArgs,
	}
	newClient := addServerFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		s, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "  %-8s %d\n", job.StatePending, s.Pending)
		fmt.Fprintf(out, "  %-8s %d\n", job.StateRunning, s.Running)
		fmt.Fprintf(out, "  %-8s %d\n", job.StateDone, s.Done)
		fmt.Fprintf(out, "  %-8s %d\n", job.StateFailed, s.Failed)
		fmt.Fprintf(out, "  %-8s %d\n", "total", s.Total)
		return nil
	}
	return cmd
}

func newWatchCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [topic]",
		Short: "Print lifecycle events as they happen",
		Long:  "Topics: firehose (default), jobs, job:<id>, queue:<QUEUE>.",
		Args:  cobra.MaximumNArgs(1),
	}
	newClient := addServerFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		topic := stream.TopicFirehose
		if len(args) == 1 {
			topic = args[0]
		}
		c, err := newClient(client.WithLogger(root.logger()))
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events, err := c.Watch(ctx, topic)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for evt := range events {
			if err := enc.Encode(evt); err != nil {
				return err
			}
		}
		return nil
	}
	return cmd
}
