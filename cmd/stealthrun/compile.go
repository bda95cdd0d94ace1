package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/v0xg/stealthrun/internal/action"
	"github.com/v0xg/stealthrun/internal/script"
)

func newCompileCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "compile <script>",
		Short: "Compile a script and print its steps as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, warnings, err := loadSteps(args[0])
			if err != nil {
				return err
			}
			printWarnings(warnings)

			data, err := json.MarshalIndent(steps, "", "  ")
			if err != nil {
				return fmt.Errorf("encode steps: %w", err)
			}
			if output == "" {
				fmt.Println(string(data))
				return nil
			}
			if err := writeFile(output, data); err != nil {
				return err
			}
			fmt.Printf("✓ %d steps saved to %s\n", len(steps), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write steps to this file instead of stdout")
	return cmd
}

// loadSteps reads a script. Files ending in .json hold already compiled
// steps; anything else is compiled.
func loadSteps(path string) ([]action.Step, []script.Warning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read script: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var steps []action.Step
		if err := json.Unmarshal(data, &steps); err != nil {
			return nil, nil, fmt.Errorf("decode steps %s: %w", path, err)
		}
		return steps, nil, nil
	}
	steps, warnings := script.Compile(string(data))
	return steps, warnings, nil
}

func printWarnings(warnings []script.Warning) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "⚠ %s\n", w)
	}
}

func logSteps(steps []action.Step) {
	for _, s := range steps {
		extra := ""
		if s.ErrorPolicy.RetryCount > 0 {
			extra += fmt.Sprintf(" [retries: %d]", s.ErrorPolicy.RetryCount)
		}
		if len(s.Fallbacks) > 0 {
			extra += fmt.Sprintf(" [fallbacks: %d]", len(s.Fallbacks))
		}
		if s.ErrorPolicy.IgnoreErrors {
			extra += " [optional]"
		}
		fmt.Printf("  [%d] %s%s\n", s.Ordinal, action.Describe(s.Params), extra)
	}
}
