package main

import (
	"errors"
	"maps"
	"slices"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newResourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "Print the flattened substitution table",
		Long: `Load the resources file and print every substitution key with the value
it is replaced by, using the configured key syntax.`,
		RunE: runResources,
	}
}

func runResources(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	rm, err := loadResourceMap(resolvedCfg)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()

	if flagJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(rm)
	}

	keys := slices.Sorted(maps.Keys(rm))

	rows := make([][]string, len(keys))
	for i, k := range keys {
		rows[i] = []string{k, rm[k]}
	}

	printTable(w, []string{"KEY", "VALUE"}, rows)

	return nil
}
