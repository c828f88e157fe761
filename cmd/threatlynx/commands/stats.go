package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/threatlynx/internal/app"
)

func NewStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show local runtime statistics",
		Long:  `Show the configured pipeline, technique mapping strategies and the scan archive on disk.`,
		RunE:  runStats,
	}
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, logrus.StandardLogger())
	if err != nil {
		return fmt.Errorf("failed to initialize scanner: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	}()

	stats := a.GetStats()
	stats["techniques"] = a.Catalog.Len()
	out := cmd.OutOrStdout()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintln(out, "Runtime Statistics:")
	fmt.Fprintln(out, strings.Repeat("═", 63))
	printStats(out, stats, "")
	return nil
}

func printStats(out io.Writer, stats map[string]interface{}, indent string) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		label := strings.ReplaceAll(k, "_", " ")
		if nested, ok := stats[k].(map[string]interface{}); ok {
			fmt.Fprintf(out, "%s%s:\n", indent, label)
			printStats(out, nested, indent+"  ")
			continue
		}
		fmt.Fprintf(out, "%s%s: %v\n", indent, label, stats[k])
	}
}
