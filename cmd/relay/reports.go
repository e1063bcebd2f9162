package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voucherRelay/internal/relay"
)

func newReportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Fetch computation reports and print them as JSON lines",
		RunE:  runReports,
	}
	addIndexerFlags(cmd.Flags())
	addCommonFlags(cmd.Flags())
	return cmd
}

func runReports(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newIndexerClient(cfg, logger)
	if err != nil {
		return err
	}

	coordinator, err := relay.NewCoordinator(relay.CoordinatorConfig{}, relay.Deps{
		Reports:  client,
		Vouchers: client,
	}, logger)
	if err != nil {
		return err
	}

	view := coordinator.RefreshReports(ctx)
	logger.Info("reports fetched", zap.Stringer("status", view.Status), zap.Int("count", len(view.Reports)))
	return writeReportView(cmd.OutOrStdout(), view)
}

type reportLine struct {
	ID           string `json:"id"`
	InputIndex   uint64 `json:"input_index"`
	ReportIndex  uint64 `json:"report_index"`
	InputPayload string `json:"input_payload"`
	Payload      string `json:"payload"`
}

func writeReportView(w io.Writer, view relay.ReportView) error {
	switch view.Status {
	case relay.ReportsFailed:
		return fmt.Errorf("fetch reports: %w", view.Err)
	case relay.ReportsEmpty:
		_, err := fmt.Fprintln(w, "no data")
		return err
	}

	enc := json.NewEncoder(w)
	for _, report := range view.Reports {
		if err := enc.Encode(reportLine{
			ID:           report.ID,
			InputIndex:   report.InputIndex,
			ReportIndex:  report.ReportIndex,
			InputPayload: report.InputPayload,
			Payload:      report.Payload,
		}); err != nil {
			return err
		}
	}
	return nil
}
