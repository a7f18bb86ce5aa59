package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunJobsCmd(clientFn, outputFn),
		newRunAnnotationsCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var pipelineID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				PipelineID: pipelineID,
				Status:     status,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "PIPELINE_ID", "VERSION", "STATUS", "EVENT", "REF", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.ID, r.PipelineID, strconv.Itoa(r.Version), r.Status,
					r.Trigger.Event, r.Trigger.Ref, r.CreatedAt,
				}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelineID, "pipeline-id", "", "Filter by pipeline ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var ref string
	var commit string
	var version int

	cmd := &cobra.Command{
		Use:   "start PIPELINE_ID",
		Short: "Start a new run manually",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := CreateRunRequest{
				Ref:    ref,
				Commit: commit,
			}

			if cmd.Flags().Changed("version") {
				req.Version = &version
			}

			run, err := client.CreateRun(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", run.ID))
			out.Print(
				[]string{"ID", "PIPELINE_ID", "VERSION", "STATUS", "REF", "CREATED"},
				[][]string{{run.ID, run.PipelineID, strconv.Itoa(run.Version), run.Status, run.Trigger.Ref, run.CreatedAt}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "Git ref to run on (required)")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit SHA")
	cmd.Flags().IntVar(&version, "version", 0, "Pipeline version (latest if not specified)")
	cmd.MarkFlagRequired("ref")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "PIPELINE_ID", "VERSION", "STATUS", "EVENT", "REF", "ERROR", "CREATED"},
				[][]string{{
					run.ID, run.PipelineID, strconv.Itoa(run.Version), run.Status,
					run.Trigger.Event, run.Trigger.Ref, run.Error, run.CreatedAt,
				}},
				run,
			)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run cancelled: %s", run.ID))
			return nil
		},
	}
}

func newRunJobsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs RUN_ID",
		Short: "List jobs in a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			jobs, err := client.ListJobs(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "OUTCOME", "SOFT", "ERROR"}
			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = []string{j.ID, j.Name, j.Outcome, strconv.FormatBool(j.SoftFailed), j.Error}
			}

			out.Print(headers, rows, jobs)
			return nil
		},
	}
}

func newRunAnnotationsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "annotations RUN_ID",
		Short: "List annotations for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			annotations, err := client.ListAnnotations(args[0])
			if err != nil {
				return err
			}

			headers := []string{"JOB", "STEP", "SEVERITY", "MESSAGE", "FILE"}
			rows := make([][]string, len(annotations))
			for i, a := range annotations {
				file := a.File
				if file != "" && a.Line > 0 {
					file = fmt.Sprintf("%s:%d", a.File, a.Line)
				}
				rows[i] = []string{a.JobName, a.StepID, a.Severity, a.Message, file}
			}

			out.Print(headers, rows, annotations)
			return nil
		},
	}
}
