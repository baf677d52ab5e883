package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/vidsift/internal/config"
	"github.com/kalambet/vidsift/internal/domain"
)

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video-file>",
	Short: "Submit a video for analysis",
	Long: `Submit a video for analysis.

The video is uploaded to the running server and processed in the background.
Use --wait to poll until the job finishes.

Examples:
  vidsift analyze ./talk.mp4
  vidsift analyze ./talk.mp4 --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		printStep("Uploading %s", args[0])
		resp, err := client.postFile(ctx, "/analyses", "video", args[0])
		if err != nil {
			return err
		}

		var result struct {
			JobID  string `json:"job_id"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued job %s", result.JobID)

		if !wait {
			return nil
		}
		return waitForJob(ctx, client, result.JobID)
	},
}

func waitForJob(ctx context.Context, client *apiClient, jobID string) error {
	last := domain.Job{Progress: -1}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}

		job, err := fetchJob(ctx, client, jobID)
		if err != nil {
			return err
		}
		if job.Progress != last.Progress || job.Status != last.Status {
			printStep("%s %d%%", job.Status, job.Progress)
			last = job
		}

		switch job.Status {
		case domain.StatusCompleted:
			printSuccess("Analysis complete (result %s)", job.ResultID)
			return nil
		case domain.StatusFailed:
			printError("Analysis failed: %s", job.ErrorMessage)
			return fmt.Errorf("job %s failed", jobID)
		case domain.StatusNotFound:
			printError("Job %s not found", jobID)
			return fmt.Errorf("job %s not found", jobID)
		}
	}
}

func fetchJob(ctx context.Context, client *apiClient, jobID string) (domain.Job, error) {
	resp, err := client.get(ctx, "/analyses/"+jobID)
	if err != nil {
		return domain.Job{}, err
	}
	var job domain.Job
	if err := decodeJSON(resp, &job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs <job-id>",
	Short: "Show the status of an analysis job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		job, err := fetchJob(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}

		printStatus("Job", "%s", job.ID)
		printStatus("Status", "%s", job.Status)
		printStatus("Progress", "%d%%", job.Progress)
		if job.Message != "" {
			printStatus("Message", "%s", job.Message)
		}
		if job.ErrorMessage != "" {
			printStatus("Error", "%s", job.ErrorMessage)
		}
		if job.ResultID != "" {
			printStatus("Result", "%s", job.ResultID)
		}
		return nil
	},
}

// --- result ---

var resultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Print the analysis result (transcript and scenes) as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/analyses/"+args[0]+"/result")
		if err != nil {
			return err
		}

		var result any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <job-id> <query>",
	Short: "Semantically search an analyzed video's transcript",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/analyses/"+args[0]+"/search?q="+url.QueryEscape(args[1]))
		if err != nil {
			return err
		}

		var result struct {
			Query   string `json:"query"`
			Matches []struct {
				Segment domain.TranscriptSegment `json:"segment"`
				Score   float64                  `json:"score"`
			} `json:"matches"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Matches) == 0 {
			printWarning("No matches")
			return nil
		}
		for _, m := range result.Matches {
			fmt.Fprintf(os.Stdout, "%7.2fs  %.3f  %s\n", m.Segment.StartTime, m.Score, m.Segment.Text)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(os.Stdout, "%-28s %s\n", k.Key, k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List valid configuration keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.ValidKeys() {
			fmt.Fprintln(os.Stdout, k)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().Bool("wait", false, "poll until the job completes")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
}
