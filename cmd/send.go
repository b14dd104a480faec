package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/rotator/internal/domain"
)

func newSendCmd(app *app) *cobra.Command {
	var (
		method      string
		path        string
		bodyFile    string
		contentType string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one request through the account pool",
		Long:  "send dispatches a single request via the best available account, rotating with backoff on rate limits and server errors. The response body is written to stdout.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.service.RestoreTrackers(cmd.Context()); err != nil {
				return err
			}

			var body []byte
			switch bodyFile {
			case "":
			case "-":
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read request body from stdin: %w", err)
				}
				body = data
			default:
				data, err := os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("read request body file: %w", err)
				}
				body = data
			}

			req := domain.UpstreamRequest{
				Method: method,
				Path:   path,
				Header: http.Header{},
				Body:   body,
			}
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}

			resp, err := app.dispatcher.Do(cmd.Context(), req)
			if err != nil {
				return err
			}

			if _, err := cmd.OutOrStdout().Write(resp.Body); err != nil {
				return err
			}
			if !resp.IsSuccess() {
				return fmt.Errorf("upstream responded with status %d", resp.Status)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", http.MethodPost, "HTTP method")
	cmd.Flags().StringVar(&path, "path", "", "request path relative to the upstream base URL")
	cmd.Flags().StringVar(&bodyFile, "body", "", "request body file, '-' for stdin")
	cmd.Flags().StringVar(&contentType, "content-type", "application/json", "request Content-Type")
	_ = cmd.MarkFlagRequired("path")

	return cmd
}
