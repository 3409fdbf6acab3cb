package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/riskintake/internal/apiclient"
	"github.com/mbd888/riskintake/internal/jobs"
)

func uploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file.csv>",
		Short: "Upload a CSV file for background import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			client := newClient()
			job, err := client.Upload(cmd.Context(), userID, args[0], f)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			return followJob(cmd, client, job)
		},
	}
	addWaitFlags(cmd)
	return cmd
}

func rescoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Queue a rescore of every stored transaction for the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}
			client := newClient()
			job, err := client.Rescore(cmd.Context(), userID)
			if err != nil {
				return fmt.Errorf("rescore failed: %w", err)
			}
			return followJob(cmd, client, job)
		},
	}
	addWaitFlags(cmd)
	return cmd
}

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job <id>",
		Short: "Show a job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			job, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				if apiclient.IsNotFound(err) {
					return fmt.Errorf("job %s not found", args[0])
				}
				return err
			}
			return followJob(cmd, client, job)
		},
	}
	addWaitFlags(cmd)
	return cmd
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Print the user's dashboard as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}
			raw, err := newClient().Dashboard(cmd.Context(), userID)
			if err != nil {
				return err
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
}

func addWaitFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("wait", false, "poll until the job finishes")
	cmd.Flags().Duration("poll-interval", apiclient.DefaultPollInterval, "interval between polls with --wait")
	cmd.Flags().Duration("timeout", 10*time.Minute, "give up waiting after this long")
}

// followJob prints the job and, with --wait, polls it to a terminal status.
// A failed job is reported as an error so scripts see a non-zero exit.
func followJob(cmd *cobra.Command, client *apiclient.Client, job *jobs.Job) error {
	out := cmd.OutOrStdout()
	wait, _ := cmd.Flags().GetBool("wait")
	if !wait || job.Status.Terminal() {
		printJob(out, job)
		return jobError(job)
	}

	interval, _ := cmd.Flags().GetDuration("poll-interval")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	fmt.Fprintf(out, "Waiting for job %s...\n", job.ID)

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	final, err := client.WaitForJob(ctx, job.ID, interval)
	if final != nil {
		printJob(out, final)
	}
	if err != nil {
		return fmt.Errorf("waiting for job %s: %w", job.ID, err)
	}
	return jobError(final)
}

func printJob(w io.Writer, job *jobs.Job) {
	fmt.Fprintf(w, "job %s  type=%s  user=%s  status=%s\n", job.ID, job.Type, job.Payload.UserID, job.Status)
	if job.Result != nil {
		fmt.Fprintf(w, "  inserted=%d updated=%d skipped=%d\n", job.Result.Inserted, job.Result.Updated, job.Result.Skipped)
	}
	if job.LastError != "" {
		fmt.Fprintf(w, "  error: %s\n", job.LastError)
	}
}

func jobError(job *jobs.Job) error {
	if job.Status == jobs.StatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.LastError)
	}
	return nil
}
