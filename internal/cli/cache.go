package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewCacheCmd создаёт группу команд для управления кэшем.
func NewCacheCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage dependency caches",
	}

	cmd.AddCommand(
		newCacheListCmd(clientFn, outputFn),
		newCacheDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

func newCacheListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			entries, err := client.ListCacheEntries()
			if err != nil {
				return err
			}

			headers := []string{"KEY", "SIZE", "UPDATED"}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{e.Key, formatSize(e.SizeBytes), e.UpdatedAt}
			}

			out.Print(headers, rows, entries)
			return nil
		},
	}
}

func newCacheDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a cache entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteCacheEntry(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Cache entry deleted: %s", args[0]))
			return nil
		},
	}
}

func formatSize(bytes int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1fGB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1fMB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1fKB", float64(bytes)/kb)
	default:
		return strconv.FormatInt(bytes, 10) + "B"
	}
}
