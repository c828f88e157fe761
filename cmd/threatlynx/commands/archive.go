package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/threatlynx/internal/catalog"
	"github.com/bl4ck0w1/threatlynx/internal/reporting"
	"github.com/bl4ck0w1/threatlynx/internal/storage"
	"github.com/bl4ck0w1/threatlynx/pkg/models"
	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

func NewArchiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage archived scans",
		Long: `Inspect the scan bundles written when scans finish, regenerate attack
reports from them and remove bundles past the retention period.`,
	}
	cmd.AddCommand(newArchiveListCommand())
	cmd.AddCommand(newArchiveReportCommand())
	cmd.AddCommand(newArchiveCleanupCommand())
	return cmd
}

func newArchiveListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived scans",
		RunE:  runArchiveList,
	}
}

func newArchiveReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <scan-id>",
		Short: "Generate reports for an archived scan",
		Args:  cobra.ExactArgs(1),
		RunE:  runArchiveReport,
	}
	cmd.Flags().StringSliceP("formats", "f", nil, "Report formats (json, yaml); prints the summary when empty")
	cmd.Flags().StringP("output", "o", "", "Output directory (defaults to reporting.output_dir)")
	cmd.Flags().Bool("compress", false, "Compress report files with gzip (.gz)")
	return cmd
}

func newArchiveCleanupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove bundles older than the retention period",
		RunE:  runArchiveCleanup,
	}
	cmd.Flags().Duration("older-than", 0, "Override storage.retention")
	return cmd
}

func openArchive(retention time.Duration) (*storage.Archive, *models.Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if retention <= 0 {
		retention = cfg.Storage.Retention
	}
	a, err := storage.NewArchive(cfg.Storage.ArchiveDir, cfg.Storage.Compression, retention, logrus.StandardLogger())
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func runArchiveList(cmd *cobra.Command, args []string) error {
	archive, _, err := openArchive(0)
	if err != nil {
		return err
	}
	entries, err := archive.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No archived scans")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCAN ID\tSIZE\tARCHIVED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s ago\n",
			e.ScanID,
			utils.HumanizeBytes(e.Size),
			utils.HumanizeDuration(time.Since(e.Modified)),
		)
	}
	return tw.Flush()
}

func runArchiveReport(cmd *cobra.Command, args []string) error {
	archive, cfg, err := openArchive(0)
	if err != nil {
		return err
	}
	bundle, err := archive.Load(args[0])
	if err != nil {
		return err
	}

	report, err := reporting.BuildScanReport(bundle.Scan, bundle.Vulnerabilities, bundle.Mappings, catalog.Default())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	formats, _ := cmd.Flags().GetStringSlice("formats")
	if len(formats) == 0 {
		summary, err := reporting.NewTemplateManager().Render(reporting.SummaryTemplate, report)
		if err != nil {
			return err
		}
		fmt.Fprint(out, summary)
		return nil
	}

	dir, _ := cmd.Flags().GetString("output")
	if dir == "" {
		dir = cfg.Reporting.OutputDir
	}
	compress, _ := cmd.Flags().GetBool("compress")
	w := reporting.NewWriter(dir, compress, logrus.StandardLogger())
	for _, f := range formats {
		path, err := w.Write(report, f)
		if err != nil {
			return fmt.Errorf("failed to generate %s report: %w", f, err)
		}
		fmt.Fprintf(out, "Report written to %s\n", path)
	}
	return nil
}

func runArchiveCleanup(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	archive, _, err := openArchive(olderThan)
	if err != nil {
		return err
	}
	removed, err := archive.Cleanup()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d archived scans\n", removed)
	return nil
}
