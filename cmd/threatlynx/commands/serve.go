package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/threatlynx/internal/app"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the ThreatLynx HTTP API. Scans submitted through POST /api/scans run in the
background; progress is streamed on GET /api/events as Server-Sent Events.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("host", "", "Listen address (overrides server.host)")
	cmd.Flags().Int("port", 0, "Listen port (overrides server.port)")
	cmd.Flags().String("inference-endpoint", "", "Inference endpoint (overrides inference.endpoint)")
	cmd.Flags().String("storage-driver", "", "Storage driver: memory or mysql")
	cmd.Flags().String("dsn", "", "MySQL DSN for the mysql storage driver")

	_ = viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("inference.endpoint", cmd.Flags().Lookup("inference-endpoint"))
	_ = viper.BindPFlag("storage.driver", cmd.Flags().Lookup("storage-driver"))
	_ = viper.BindPFlag("storage.dsn", cmd.Flags().Lookup("dsn"))
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	logger := logrus.StandardLogger()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)
	srv := a.Server()
	serveErr := srv.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Warnf("Shutdown incomplete: %v", err)
	}
	return serveErr
}
