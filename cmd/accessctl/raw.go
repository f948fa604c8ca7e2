package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/driver"
)

var (
	rawDevice   string
	rawMethod   string
	rawPath     string
	rawData     string
	rawDataFile string
	rawJSON     bool
)

var rawCmd = &cobra.Command{
	Use:   "raw",
	Short: "Send one authenticated request to a device",
	Long: `Sends a request to the device web API using the stored credentials and
prints the answer unmodified. Non-2xx answers are printed, not treated as
failures; only transport and authentication problems fail the command.`,
	Example: `  accessctl raw --device dev-gate --path /ISAPI/System/deviceInfo
  accessctl raw --device dev-door --method POST --path /cgi-bin/api --data '{"a":1}'`,
	Args: cobra.NoArgs,
	RunE: runRaw,
}

func init() {
	rawCmd.Flags().StringVarP(&rawDevice, "device", "d", "", "device ID")
	rawCmd.Flags().StringVarP(&rawMethod, "method", "X", "GET", "HTTP method")
	rawCmd.Flags().StringVarP(&rawPath, "path", "p", "", "request path, starting with /")
	rawCmd.Flags().StringVar(&rawData, "data", "", "request body")
	rawCmd.Flags().StringVar(&rawDataFile, "data-file", "", "read the request body from a file")
	rawCmd.Flags().BoolVar(&rawJSON, "json", false, "print the answer as JSON")
	rootCmd.AddCommand(rawCmd)
}

func runRaw(cmd *cobra.Command, _ []string) error {
	if !strings.HasPrefix(rawPath, "/") {
		return errors.New("--path must start with /")
	}
	if rawData != "" && rawDataFile != "" {
		return errors.New("--data and --data-file are mutually exclusive")
	}

	payload := []byte(rawData)
	if rawDataFile != "" {
		data, err := os.ReadFile(rawDataFile)
		if err != nil {
			return fmt.Errorf("reading --data-file: %w", err)
		}
		payload = data
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	dev, drv, err := lookupDriver(ctx, rawDevice)
	if err != nil {
		return err
	}

	method := strings.ToUpper(rawMethod)
	resp, err := drv.RawRequest(ctx, method, rawPath, payload, dev)
	entry := audit.Entry{
		Action:   audit.ActionRawRequest,
		DeviceID: dev.ID,
		Outcome:  driver.KindName(err),
		Details:  map[string]any{"method": method, "path": rawPath},
	}
	if resp != nil {
		entry.Details["status_code"] = resp.StatusCode
	}
	recordAudit(cmd, entry)
	if err != nil {
		return fmt.Errorf("raw request failed: %w", err)
	}

	if rawJSON {
		out := map[string]any{
			"status_code":  resp.StatusCode,
			"content_type": resp.ContentType,
		}
		if utf8.Valid(resp.Body) {
			out["body"] = string(resp.Body)
		} else {
			out["body_base64"] = base64.StdEncoding.EncodeToString(resp.Body)
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal response: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("HTTP %d", resp.StatusCode)
	if resp.ContentType != "" {
		cmd.Printf(" (%s)", resp.ContentType)
	}
	cmd.Println()
	if utf8.Valid(resp.Body) {
		cmd.Println(string(resp.Body))
	} else {
		cmd.Printf("<%d bytes of binary data, use --json for base64>\n", len(resp.Body))
	}
	return nil
}
