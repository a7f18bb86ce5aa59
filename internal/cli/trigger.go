package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTriggerCmd создаёт команду отправки события репозитория.
// Полезна для интеграции с хуками и для отладки path-фильтров.
func NewTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var event string
	var ref string
	var commit string
	var changeRequest int
	var changedPaths []string

	cmd := &cobra.Command{
		Use:   "trigger PIPELINE_NAME",
		Short: "Send a repository event (push, change_request)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.SendEvent(EventRequest{
				Pipeline:      args[0],
				Event:         event,
				Ref:           ref,
				Commit:        commit,
				ChangeRequest: changeRequest,
				ChangedPaths:  changedPaths,
			})
			if err != nil {
				return err
			}

			if !resp.Accepted {
				out.Success(fmt.Sprintf("Event not accepted: %s", resp.Reason))
				if out.jsonMode {
					out.JSON(resp)
				}
				return nil
			}

			run := resp.Run
			out.Success(fmt.Sprintf("Run started: %s", run.ID))
			out.Print(
				[]string{"ID", "PIPELINE_ID", "VERSION", "STATUS", "REF", "CREATED"},
				[][]string{{run.ID, run.PipelineID, strconv.Itoa(run.Version), run.Status, run.Trigger.Ref, run.CreatedAt}},
				resp,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&event, "event", "push", "Event kind: push or change_request")
	cmd.Flags().StringVar(&ref, "ref", "", "Git ref the event happened on (required)")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit SHA")
	cmd.Flags().IntVar(&changeRequest, "change-request", 0, "Change request number (for change_request events)")
	cmd.Flags().StringSliceVar(&changedPaths, "changed-path", nil, "Changed file path (repeatable)")
	cmd.MarkFlagRequired("ref")

	return cmd
}
