package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type healthJSON struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the status store and every stage's external services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, store, err := ctx.newManager()
			if err != nil {
				return err
			}

			checks := make([]healthJSON, 0, 4)
			dbHealth, dbErr := store.CheckHealth(cmd.Context())
			storeCheck := healthJSON{Name: "store", Ready: dbErr == nil && len(dbHealth.MissingColumns) == 0}
			switch {
			case dbErr != nil:
				storeCheck.Detail = dbErr.Error()
			case len(dbHealth.MissingColumns) > 0:
				storeCheck.Detail = fmt.Sprintf("missing columns: %v", dbHealth.MissingColumns)
			default:
				storeCheck.Detail = fmt.Sprintf("%s %s (%d records)", dbHealth.Driver, dbHealth.Location, dbHealth.TotalRecords)
			}
			checks = append(checks, storeCheck)
			for _, h := range manager.Health(cmd.Context()) {
				checks = append(checks, healthJSON{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
			}

			ready := true
			for _, check := range checks {
				ready = ready && check.Ready
			}

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, checks); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Health", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, check := range checks {
					kind := statusOK
					if !check.Ready {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
				}
			}
			if !ready {
				return errors.New("one or more health checks failed")
			}
			return nil
		},
	}
}
