package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	if err := newRootCommand(logger).Execute(); err != nil {
		logger.WithError(err).Error("Request failed")
		os.Exit(1)
	}
}

type clientOptions struct {
	addr    string
	timeout time.Duration
}

func newRootCommand(logger *logrus.Logger) *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:           "testclient",
		Short:         "Exercise a running transgate server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.addr, "addr", "http://localhost:5000", "Server base URL")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Request timeout")

	cmd.AddCommand(
		newHealthCommand(logger, opts),
		newTranslateCommand(logger, opts),
		newDetectCommand(logger, opts),
	)
	return cmd
}

func newHealthCommand(logger *logrus.Logger, opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "GET /health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := doRequest(cmd.Context(), logger, opts, http.MethodGet, "/health", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func newTranslateCommand(logger *logrus.Logger, opts *clientOptions) *cobra.Command {
	var source, target, textFile string

	cmd := &cobra.Command{
		Use:   "translate [text]",
		Short: "POST /translate",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args, textFile)
			if err != nil {
				return err
			}

			payload := map[string]string{"q": text}
			if source != "" {
				payload["source"] = source
			}
			if target != "" {
				payload["target"] = target
			}

			start := time.Now()
			body, err := doRequest(cmd.Context(), logger, opts, http.MethodPost, "/translate", payload)
			if err != nil {
				return err
			}

			var resp struct {
				TranslatedText   string `json:"translatedText"`
				DetectedLanguage struct {
					Language string `json:"language"`
				} `json:"detectedLanguage"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			out := cmd.OutOrStdout()
			separator := strings.Repeat("=", 80)
			dashLine := strings.Repeat("-", 80)
			fmt.Fprintln(out, separator)
			fmt.Fprintln(out, "TRANSLATION RESULTS")
			fmt.Fprintln(out, separator)
			fmt.Fprintf(out, "Detected Language: %s\n", resp.DetectedLanguage.Language)
			fmt.Fprintf(out, "Target Language: %s\n", target)
			fmt.Fprintln(out, dashLine)
			fmt.Fprintln(out, resp.TranslatedText)
			fmt.Fprintln(out, separator)

			logger.WithFields(logrus.Fields{
				"duration_seconds": time.Since(start).Seconds(),
				"detected":         resp.DetectedLanguage.Language,
			}).Info("Translation completed successfully")
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "auto", "Source language code")
	cmd.Flags().StringVar(&target, "target", "en", "Target language code")
	cmd.Flags().StringVar(&textFile, "file", "", "Read text from file")
	return cmd
}

func newDetectCommand(logger *logrus.Logger, opts *clientOptions) *cobra.Command {
	var textFile string

	cmd := &cobra.Command{
		Use:   "detect [text]",
		Short: "POST /detect",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args, textFile)
			if err != nil {
				return err
			}
			body, err := doRequest(cmd.Context(), logger, opts, http.MethodPost, "/detect", map[string]string{"q": text})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVar(&textFile, "file", "", "Read text from file")
	return cmd
}

func readText(args []string, textFile string) (string, error) {
	if textFile != "" {
		data, err := os.ReadFile(textFile)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", textFile, err)
		}
		return string(data), nil
	}
	if len(args) == 1 {
		return args[0], nil
	}
	return "", fmt.Errorf("either a text argument or --file must be provided")
}

// doRequest sends payload as JSON and returns the body of a 2xx response.
// Error responses are turned into errors carrying the server's message.
func doRequest(ctx context.Context, logger *logrus.Logger, opts *clientOptions, method, path string, payload any) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	url := strings.TrimRight(opts.addr, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.WithFields(logrus.Fields{
		"method": method,
		"url":    url,
	}).Debug("Sending request")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"status":     resp.StatusCode,
		"request_id": resp.Header.Get("X-Request-Id"),
	}).Info("Response received")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return body, nil
}

func printJSON(w io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
