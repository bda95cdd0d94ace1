package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/v0xg/stealthrun/internal/profile"
)

func newProfileCommand() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Print generated session profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			gen := generator(cfg)
			profiles := make([]profile.Profile, count)
			for i := range profiles {
				profiles[i] = gen.Generate(cfg.Overrides())
				if err := profiles[i].Validate(); err != nil {
					return err
				}
			}
			data, err := json.MarshalIndent(profiles, "", "  ")
			if err != nil {
				return fmt.Errorf("encode profiles: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of profiles")
	return cmd
}
