package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range scenarios {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", s.name, s.description); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
