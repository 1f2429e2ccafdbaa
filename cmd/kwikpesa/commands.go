package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kwikpesa/gateway/internal/config"
	"github.com/kwikpesa/gateway/internal/database"
	"github.com/kwikpesa/gateway/internal/hsm"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/kwikpesa/gateway/internal/providers"
	"github.com/kwikpesa/gateway/internal/services"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// loadFees resolves the schedule from --fees, then the environment, then the built-in one
func loadFees(cmd *cobra.Command) (*config.FeeSchedule, error) {
	path, _ := cmd.Flags().GetString("fees")
	if path == "" {
		path = config.LoadSettlementConfig().FeeSchedulePath
	}
	return config.LoadFeeSchedule(path)
}

func openLedger(cmd *cobra.Command) (*sql.DB, *services.LedgerService, error) {
	config.InitViper()

	fees, err := loadFees(cmd)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.InitDB()
	if err != nil {
		return nil, nil, err
	}
	return db, services.NewLedgerService(db, fees.Accounts()), nil
}

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check that ledger credits equal debits and time out stale transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, ledger, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			settlement := config.LoadSettlementConfig()
			reconciler := services.NewReconciliationService(ledger, settlement.StaleTimeout, settlement.SweepInterval, hsm.NewAuditLogger())

			report, err := reconciler.RunAudit(cmd.Context())
			printReport(cmd, report)

			var violation *services.LedgerIntegrityViolation
			if errors.As(err, &violation) {
				return fmt.Errorf("ledger is out of balance by %s", violation.Delta.StringFixed(4))
			}
			return err
		},
	}
}

func printReport(cmd *cobra.Command, report services.AuditReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Ledger Audit")
	fmt.Fprintln(out, strings.Repeat("=", 40))
	fmt.Fprintf(out, "  Ran at:    %s\n", report.RanAt.Format(time.RFC3339))
	fmt.Fprintf(out, "  Delta:     %s\n", report.Delta.StringFixed(4))
	fmt.Fprintf(out, "  Balanced:  %t\n", report.Balanced)
	fmt.Fprintf(out, "  Timed out: %d\n", len(report.StaleFailed))
	for _, id := range report.StaleFailed {
		fmt.Fprintf(out, "    %s\n", id)
	}
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail PENDING transactions older than the stale timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, ledger, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			timeout, _ := cmd.Flags().GetDuration("stale-timeout")
			if timeout <= 0 {
				timeout = config.LoadSettlementConfig().StaleTimeout
			}

			reconciler := services.NewReconciliationService(ledger, timeout, time.Minute, hsm.NewAuditLogger())
			ids, err := reconciler.CleanupStale(cmd.Context(), time.Now())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Timed out %d transaction(s)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().Duration("stale-timeout", 0, "Override RECONCILE_STALE_TIMEOUT")
	return cmd
}

func issueCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue-credentials [merchant-id]",
		Short: "Issue a signing secret and API key for a merchant, printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			vault, err := hsm.InitHSM(hsm.Config{
				MasterKey: viper.GetString("hsm.master_key"),
				Salt:      []byte(viper.GetString("hsm.salt")),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize HSM: %w", err)
			}

			merchants := services.NewPostgresMerchantStore(db)
			if name, _ := cmd.Flags().GetString("name"); name != "" {
				webhookURL, _ := cmd.Flags().GetString("webhook-url")
				phone, _ := cmd.Flags().GetString("phone")
				err := merchants.CreateMerchant(cmd.Context(), &models.Merchant{
					ID:         args[0],
					Name:       name,
					Phone:      phone,
					WebhookURL: webhookURL,
					IsActive:   true,
				})
				if err != nil {
					return err
				}
			}

			creds, err := services.NewCredentialService(merchants, vault, hsm.NewAuditLogger()).Issue(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(creds)
		},
	}

	cmd.Flags().String("name", "", "Create or update the merchant with this name first")
	cmd.Flags().String("webhook-url", "", "Merchant settlement webhook URL")
	cmd.Flags().String("phone", "", "Merchant contact number")
	return cmd
}

func feesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fees",
		Short: "Show the fee schedule, or the split of one amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			fees, err := loadFees(cmd)
			if err != nil {
				return err
			}

			amount, _ := cmd.Flags().GetString("amount")
			if amount == "" {
				printSchedule(cmd, fees)
				return nil
			}

			gross, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			provider, _ := cmd.Flags().GetString("provider")

			split, err := services.NewCommissionCalculator(fees).Split(gross, strings.ToUpper(provider))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Split of %s via %s (fees %s)\n", split.Gross.StringFixed(2), split.Provider, split.FeeVersion)
			fmt.Fprintf(out, "  Merchant net:   %s\n", split.MerchantNet.StringFixed(2))
			fmt.Fprintf(out, "  Platform fee:   %s\n", split.PlatformFee.StringFixed(2))
			fmt.Fprintf(out, "  Provider cost:  %s\n", split.ProviderCost.StringFixed(2))
			fmt.Fprintf(out, "  Treasury debit: %s\n", split.TreasuryDebit.StringFixed(2))
			return nil
		},
	}

	cmd.Flags().String("amount", "", "Gross amount to split")
	cmd.Flags().String("provider", "TNM", "Provider identity (AIRTEL, TNM, BANK_NBM...)")
	return cmd
}

func printSchedule(cmd *cobra.Command, fees *config.FeeSchedule) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Fee schedule %s\n", fees.Version())
	fmt.Fprintln(out, strings.Repeat("=", 40))
	fmt.Fprintf(out, "  %-12s %s\n", "MERCHANT", fees.MerchantFeeRate().String())

	identities := []string{"AIRTEL", "TNM"}
	for _, b := range providers.Banks() {
		identities = append(identities, b.Identity())
	}
	for _, id := range identities {
		fmt.Fprintf(out, "  %-12s %s\n", id, fees.ProviderRate(id).String())
	}

	accounts := fees.Accounts()
	fmt.Fprintln(out, "\nAccounts:")
	fmt.Fprintf(out, "  Revenue:  %s\n", accounts.PlatformRevenue)
	fmt.Fprintf(out, "  Expense:  %s\n", accounts.ProviderExpense)
	fmt.Fprintf(out, "  Treasury: %s\n", accounts.Treasury)
}
