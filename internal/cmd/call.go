package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/relaycall/relaycall/internal/core"
	"github.com/relaycall/relaycall/internal/observability"
	"github.com/relaycall/relaycall/internal/output"
)

var callCmd = &cobra.Command{
	Use:   "call <endpoint>",
	Short: "Dispatch one outbound call",
	Long: `Dispatch a single call through the retry, rate limit, and timeout
pipeline and print its normalized result.

The payload can be passed inline with --payload or read from a YAML or JSON
file with --payload-file. The command exits 0 whenever a terminal result was
produced, whatever its outcome; use the printed outcome field to branch.`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().String("operation", "", "Operation or sub-path on the endpoint")
	callCmd.Flags().String("payload", "", "Inline payload (JSON)")
	callCmd.Flags().String("payload-file", "", "Payload file (YAML or JSON)")
	callCmd.Flags().String("idempotency-key", "", "Idempotency key forwarded to the integration")
	callCmd.Flags().Duration("timeout", 0, "Call deadline covering all attempts (default from endpoint config)")
	callCmd.Flags().StringToString("metadata", nil, "Metadata entries as key=value")
	callCmd.Flags().String("output", "table", "Output format: table, json")
}

func runCall(cmd *cobra.Command, args []string) error {
	endpoint := strings.TrimSpace(args[0])
	if endpoint == "" {
		return errors.New("endpoint is required")
	}

	operation, err := cmd.Flags().GetString("operation")
	if err != nil {
		return err
	}
	inline, err := cmd.Flags().GetString("payload")
	if err != nil {
		return err
	}
	payloadFile, err := cmd.Flags().GetString("payload-file")
	if err != nil {
		return err
	}
	idempotencyKey, err := cmd.Flags().GetString("idempotency-key")
	if err != nil {
		return err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	metadata, err := cmd.Flags().GetStringToString("metadata")
	if err != nil {
		return err
	}
	formatFlag, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(formatFlag)
	if err != nil {
		return err
	}

	payload, err := resolvePayload(inline, payloadFile)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	pipe, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipe.Close()

	if _, err := pipe.Registry.Resolve(endpoint); err != nil {
		return err
	}

	spec := core.CallSpec{
		Endpoint:       endpoint,
		Operation:      operation,
		Payload:        payload,
		Timeout:        timeout,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
	}

	startedAt := time.Now()
	result := pipe.Dispatcher.Submit(ctx, spec)

	observability.CLILogger.Debug("Call resolved",
		zap.String("endpoint", endpoint),
		zap.String("outcome", result.Outcome.String()),
		zap.Int("attempts", result.Attempts),
		zap.Duration("elapsed", time.Since(startedAt)))

	rendered, err := output.NewFormatter(format).FormatResult(result)
	if err != nil {
		return err
	}
	fmt.Println(rendered)

	return nil
}

// resolvePayload loads the call payload from the inline flag or a file. YAML
// files are normalized to JSON so integrations always see one wire shape.
func resolvePayload(inline, file string) ([]byte, error) {
	if inline != "" && file != "" {
		return nil, errors.New("--payload and --payload-file are mutually exclusive")
	}

	if inline != "" {
		return []byte(inline), nil
	}
	if file == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(file) // #nosec G304 -- user-supplied payload path
	if err != nil {
		return nil, fmt.Errorf("read payload file: %w", err)
	}

	if json.Valid(raw) {
		return raw, nil
	}

	var decoded any
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("payload file is neither JSON nor YAML: %w", err)
	}

	normalized, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}
	return normalized, nil
}
