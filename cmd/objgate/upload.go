package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koustreak/objgate/internal/gateway"
)

var (
	uploadBucket      string
	uploadKey         string
	uploadContentType string
	uploadAs          string
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Upload a file, or stdin, as one multipart session.",
	Long:  `Upload streams the named file, or standard input when the argument is "-" or missing, to bucket/key in parts. On any failure the session is aborted and no object is left behind. The committed result is printed as JSON.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		body := io.Reader(cmd.InOrStdin())
		key := uploadKey
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			body = f
			if key == "" {
				key = filepath.Base(args[0])
			}
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Service.MultipartUpload(ctx, gateway.Upload{
			Bucket:      uploadBucket,
			Key:         key,
			Body:        body,
			Size:        -1,
			ContentType: uploadContentType,
			UploadedBy:  uploadAs,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVarP(&uploadBucket, "bucket", "b", "", "destination bucket")
	uploadCmd.Flags().StringVarP(&uploadKey, "key", "k", "", "object key (default: the file name)")
	uploadCmd.Flags().StringVar(&uploadContentType, "content-type", "", "content type (default: detected)")
	uploadCmd.Flags().StringVar(&uploadAs, "uploaded-by", "", "value of the uploaded-by metadata")
	uploadCmd.MarkFlagRequired("bucket")
}
