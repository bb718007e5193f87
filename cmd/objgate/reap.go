package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
)

var (
	reapBucket    string
	reapPrefix    string
	reapOlderThan time.Duration
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Abort incomplete multipart uploads older than a threshold.",
	Long:  `Reap lists the multipart sessions still open under bucket/prefix and aborts those initiated before --older-than ago, releasing the storage their parts hold. Sessions younger than the threshold may belong to uploads still in progress and are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Service.ReapIncomplete(ctx, reapBucket, reapPrefix, reapOlderThan)
		if err != nil {
			return err
		}

		a.Log.InfoWith("reap finished", map[string]any{
			"aborted": len(report.Aborted),
			"failed":  len(report.Failed),
			"kept":    report.Kept,
		})
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(reapCmd)

	reapCmd.Flags().StringVarP(&reapBucket, "bucket", "b", "", "bucket to sweep")
	reapCmd.Flags().StringVarP(&reapPrefix, "prefix", "p", "", "only consider keys under this prefix")
	reapCmd.Flags().DurationVar(&reapOlderThan, "older-than", 24*time.Hour, "minimum session age")
	reapCmd.MarkFlagRequired("bucket")
}
