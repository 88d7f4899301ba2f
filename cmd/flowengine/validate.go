package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsdeck/flowengine/internal/definition"
)

func newValidateCmd(configPath *string) *cobra.Command {
	var withSeconds bool

	cmd := &cobra.Command{
		Use:   "validate [dir...]",
		Short: "Validate workflow and trigger definition files",
		Long: `Load every *.yaml and *.yml file under the given directories (or the
configured definition directories) and report every validation error.
Exits non-zero when any file fails to parse or validate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parseConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			dirs := args
			if len(dirs) == 0 {
				dirs = cfg.Definitions.Directories
			}
			if len(dirs) == 0 {
				return fmt.Errorf("no definition directories given or configured")
			}
			if !cmd.Flags().Changed("with-seconds") {
				withSeconds = cfg.Scheduler.WithSeconds
			}

			files, err := definition.NewLoader().LoadAll(dirs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			verrs := definition.NewValidator(withSeconds).Validate(files)
			for _, ve := range verrs {
				fmt.Fprintf(out, "%s: %s (%s)\n", ve.Path, ve.Message, ve.Code)
			}
			if len(verrs) > 0 {
				return fmt.Errorf("%d validation errors in %d files", len(verrs), len(files))
			}

			reg := definition.NewRegistry(files)
			fmt.Fprintf(out, "ok: %d files, %d workflows, %d triggers (checksum %s)\n",
				len(files), len(reg.Workflows()), len(reg.Triggers()), reg.Checksum())
			return nil
		},
	}
	cmd.Flags().BoolVar(&withSeconds, "with-seconds", false, "accept six-field cron schedules")
	return cmd
}
