package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/creditledger/internal/config"
	"github.com/MarkoPoloResearchLab/creditledger/internal/driftreport"
	"github.com/MarkoPoloResearchLab/creditledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagRepair     = "repair"
	flagOperator   = "operator"
	flagLimit      = "limit"
	defaultLimit   = 100
	scanTimeFormat = time.RFC3339
)

func newReconcileCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check stored balances against the ledger",
	}

	user := &cobra.Command{
		Use:   "user <user-id>",
		Short: "Reconcile one user, optionally appending a manual_fix entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repair, err := cmd.Flags().GetBool(flagRepair)
			if err != nil {
				return err
			}
			operator, err := cmd.Flags().GetString(flagOperator)
			if err != nil {
				return err
			}
			userID, err := ledger.NewUserID(args[0])
			if err != nil {
				return err
			}
			service, cleanup, err := app.buildService(cmd.Context(), nil, false)
			if err != nil {
				return err
			}
			defer cleanup()

			if !repair {
				report, err := service.Reconcile(cmd.Context(), userID)
				if err != nil {
					return err
				}
				if err := printJSON(cmd, grpcserver.ReconcileMessage(report)); err != nil {
					return err
				}
				return report.Err()
			}
			result, err := service.Repair(cmd.Context(), ledger.RepairRequest{UserID: userID, OperatorID: operator})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"before":   grpcserver.ReconcileMessage(result.Before),
				"applied":  result.Applied,
				"entry_id": result.EntryID.String(),
				"type":     result.Type.String(),
				"amount":   result.Amount.Int64(),
			})
		},
	}
	user.Flags().Bool(flagRepair, false, "append a manual_fix entry when drift is found")
	user.Flags().String(flagOperator, "", "operator recorded in the repair metadata")

	scan := &cobra.Command{
		Use:   "scan",
		Short: "List drifted accounts and optionally archive the report to S3",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt(flagLimit)
			if err != nil {
				return err
			}
			service, cleanup, err := app.buildService(cmd.Context(), nil, false)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := driftreport.Build(cmd.Context(), service, limit, time.Now())
			if err != nil {
				return err
			}
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if app.cfg.ReportBucket == "" {
				return nil
			}
			s3Config := app.cfg.S3()
			client, err := driftreport.NewS3Client(cmd.Context(), s3Config)
			if err != nil {
				return err
			}
			uploader, err := driftreport.NewUploader(client, s3Config.Bucket, s3Config.Prefix)
			if err != nil {
				return err
			}
			key, err := uploader.Upload(cmd.Context(), report)
			if err != nil {
				return err
			}
			app.logger.Info("drift report archived",
				zap.String("bucket", s3Config.Bucket),
				zap.String("key", key),
				zap.Int("drifted", len(report.Accounts)),
				zap.String("generated_at", report.GeneratedAt.Format(scanTimeFormat)),
			)
			return nil
		},
	}
	scan.Flags().Int(flagLimit, defaultLimit, "maximum accounts to report")
	scan.Flags().String(config.KeyReportBucket, "", "S3 bucket receiving the JSON report (optional)")
	scan.Flags().String(config.KeyReportPrefix, "", "object key prefix inside the bucket")
	scan.Flags().String(config.KeyS3Region, "", "S3 region")
	scan.Flags().String(config.KeyS3EndpointURL, "", "S3-compatible endpoint URL")
	scan.Flags().String(config.KeyS3AccessKeyID, "", "S3 access key id (default credential chain when empty)")
	scan.Flags().String(config.KeyS3SecretAccessKey, "", "S3 secret access key")

	cmd.AddCommand(user, scan)
	return cmd
}

func printJSON(cmd *cobra.Command, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return err
}
