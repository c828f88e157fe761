package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/threatlynx/internal/catalog"
)

func NewCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog [technique-id]",
		Short: "List the attack technique catalog",
		Long:  `List the built-in attack technique catalog, or show one technique in detail.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCatalog,
	}
	cmd.Flags().String("tactic", "", "Only list techniques of this tactic")
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cat := catalog.Default()
	out := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")

	if len(args) == 1 {
		e, ok := cat.Get(args[0])
		if !ok {
			return fmt.Errorf("unknown technique: %s", args[0])
		}
		if asJSON {
			return json.NewEncoder(out).Encode(e)
		}
		fmt.Fprintf(out, "%s  %s\n", e.ID, e.Name)
		fmt.Fprintf(out, "Tactic:      %s\n", e.Tactic)
		fmt.Fprintf(out, "Platforms:   %s\n", strings.Join(e.Platforms, ", "))
		fmt.Fprintf(out, "Description: %s\n", e.Description)
		fmt.Fprintf(out, "Detection:   %s\n", e.Detection)
		fmt.Fprintf(out, "Mitigation:  %s\n", e.Mitigation)
		return nil
	}

	tactic, _ := cmd.Flags().GetString("tactic")
	entries := cat.All()
	if tactic != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if strings.EqualFold(e.Tactic, tactic) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTACTIC")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ID, e.Name, e.Tactic)
	}
	return tw.Flush()
}
