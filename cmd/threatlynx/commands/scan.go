package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/threatlynx/internal/app"
	"github.com/bl4ck0w1/threatlynx/internal/broadcast"
	"github.com/bl4ck0w1/threatlynx/internal/reporting"
	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [target]",
		Short: "Run one scan in-process",
		Long: `Run reconnaissance, vulnerability inference and technique mapping against a
single host or IPv4 address, printing progress as each stage completes.`,
		Args: cobra.ExactArgs(1),
		RunE: runScan,
	}

	cmd.Flags().StringP("type", "t", "full", "Scan type (recon, full)")
	cmd.Flags().Duration("timeout", 0, "Scan timeout (overrides global.scan_timeout)")
	cmd.Flags().String("endpoint", "", "Inference endpoint (overrides inference.endpoint)")
	cmd.Flags().Bool("report", false, "Write the attack report when the scan completes")
	cmd.Flags().StringSliceP("formats", "f", nil, "Report formats (json, yaml)")
	cmd.Flags().StringP("output", "o", "", "Report output directory")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if d, _ := cmd.Flags().GetDuration("timeout"); d > 0 {
		cfg.Global.ScanTimeout = d
	}
	if ep, _ := cmd.Flags().GetString("endpoint"); ep != "" {
		cfg.Inference.Endpoint = ep
	}
	kindFlag, _ := cmd.Flags().GetString("type")
	kind, err := models.ParseScanKind(kindFlag)
	if err != nil {
		return err
	}

	logger := logrus.StandardLogger()
	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize scanner: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := a.Hub.Register()
	scanID, err := a.Service.Submit(ctx, args[0], kind)
	if err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}
	logger.Infof("Scan started with ID: %s", scanID)

	quiet := viper.GetBool("quiet")
	final, err := monitorScan(ctx, obs, scanID, cmd.ErrOrStderr(), quiet)
	if err != nil {
		return err
	}
	a.Service.Wait(scanID)

	if err := handleScanCompletion(cmd, a, scanID); err != nil {
		return err
	}
	if final.Status == models.StatusFailed {
		return fmt.Errorf("scan failed at %d%%: %s", final.Progress, final.Message)
	}
	return nil
}

// monitorScan prints progress events for scanID until its terminal event.
func monitorScan(ctx context.Context, obs *broadcast.Observer, scanID string, out io.Writer, quiet bool) (models.ProgressEvent, error) {
	const barWidth = 50
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			logrus.Info("Scan interrupted; it keeps running until its current stage ends")
			return models.ProgressEvent{}, ctx.Err()
		case data, ok := <-obs.Events():
			if !ok {
				return models.ProgressEvent{}, fmt.Errorf("progress stream closed before scan %s finished", scanID)
			}
			var ev models.ProgressEvent
			if err := json.Unmarshal(data, &ev); err != nil || ev.ScanID != scanID {
				continue
			}
			if !quiet {
				completed := ev.Progress * barWidth / 100
				fmt.Fprintf(out, "\r[%s%s] %3d%% %-40s",
					strings.Repeat("=", completed),
					strings.Repeat(" ", barWidth-completed),
					ev.Progress,
					truncate(ev.Message, 40),
				)
			}
			if ev.Status.Terminal() {
				if !quiet {
					fmt.Fprintln(out)
				}
				return ev, nil
			}
		}
	}
}

func handleScanCompletion(cmd *cobra.Command, a *app.App, scanID string) error {
	ctx := context.Background()
	scan, err := a.Store.GetScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("failed to get scan results: %w", err)
	}
	vulns, err := a.Store.ListVulnerabilities(ctx, scanID)
	if err != nil {
		return err
	}
	mappings, err := a.Store.ListMappings(ctx, scanID)
	if err != nil {
		return err
	}

	report, err := reporting.BuildScanReport(*scan, vulns, mappings, a.Catalog)
	if err != nil {
		return err
	}

	summary, err := reporting.NewTemplateManager().Render(reporting.SummaryTemplate, report)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), summary)
	if scan.Error != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Error: %s\n", scan.Error)
	}

	if want, _ := cmd.Flags().GetBool("report"); !want {
		return nil
	}
	formats, _ := cmd.Flags().GetStringSlice("formats")
	if len(formats) == 0 {
		formats = a.Config.Reporting.Formats
	}
	dir, _ := cmd.Flags().GetString("output")
	if dir == "" {
		dir = a.Config.Reporting.OutputDir
	}
	w := reporting.NewWriter(dir, false, a.Logger)
	for _, f := range formats {
		path, err := w.Write(report, f)
		if err != nil {
			return fmt.Errorf("failed to generate %s report: %w", f, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", path)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
