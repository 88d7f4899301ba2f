package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/observability"
	"github.com/opsdeck/flowengine/model"
)

func newInvokeCmd(configPath *string) *cobra.Command {
	var (
		data     string
		dataFile string
		tenant   string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "invoke <workflow-id>",
		Short: "Run one workflow now and print its result",
		Long: `Run a workflow once against the configured store and print the
invocation result as JSON. With the default in-memory store the workflow
comes from the configured definition directories.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parseConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			triggerData, err := readTriggerData(data, dataFile)
			if err != nil {
				return err
			}

			logger := zap.NewNop()
			if verbose {
				if logger, err = observability.NewLogger(cfg.Observability); err != nil {
					return err
				}
				defer func() { _ = logger.Sync() }()
			}

			a, err := buildApp(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.engine.Invoke(cmd.Context(), model.InvokeRequest{
				WorkflowID:  args[0],
				TriggerData: triggerData,
				TriggeredBy: model.TriggeredByManual,
				TenantID:    tenant,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("execution %s failed: %s", res.ExecutionID, res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "trigger data as a JSON object")
	cmd.Flags().StringVar(&dataFile, "data-file", "", "read trigger data from a JSON file")
	cmd.Flags().StringVar(&tenant, "tenant", "", "run as this tenant; the workflow must belong to it")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "write engine logs to stdout")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file")
	return cmd
}

func readTriggerData(data, dataFile string) (map[string]any, error) {
	raw := []byte(data)
	if dataFile != "" {
		b, err := os.ReadFile(dataFile)
		if err != nil {
			return nil, fmt.Errorf("read trigger data: %w", err)
		}
		raw = b
	}
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("trigger data must be a JSON object: %w", err)
	}
	return out, nil
}
