// cmd/settlementctl/commands.go
package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/javajoker/handoff-backend/internal/config"
	"github.com/javajoker/handoff-backend/internal/database"
	"github.com/javajoker/handoff-backend/internal/events"
	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/utils"
)

var (
	reconcileJSON bool
	tokenUserType string
	tokenTTL      time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "settlementctl",
	Short:         "Operations tooling for the settlement service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := connect()
		if err != nil {
			return err
		}
		defer database.Close(db)

		return database.RunMigrations(db)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "List settled orders whose ledger entries do not sum to zero",
	Long: `Every completed or refunded order must balance: the signed sum of its
ledger entries is zero. reconcile reports each order that does not, and
exits non-zero when any is found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := connect()
		if err != nil {
			return err
		}
		defer database.Close(db)

		ledger := services.NewLedgerService(db, services.NewFeePolicy(cfg.Payment), events.Nop{}, logrus.StandardLogger())
		imbalances, err := ledger.Reconcile(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if reconcileJSON {
			if err := json.NewEncoder(out).Encode(imbalances); err != nil {
				return err
			}
		} else {
			for _, im := range imbalances {
				fmt.Fprintf(out, "%s\t%s\tbalance=%s\tsettlements=%d\n",
					im.OrderID, im.Status, services.FormatCents(im.Balance), im.Settlements)
			}
			fmt.Fprintf(out, "%d unbalanced order(s)\n", len(imbalances))
		}

		if len(imbalances) > 0 {
			return fmt.Errorf("ledger has %d unbalanced order(s)", len(imbalances))
		}
		return nil
	},
}

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Release escrow for delivered orders past the dispute window",
	Long: `settle runs one pass of the sweep the server runs every
SETTLE_INTERVAL_MINUTES. Disputed orders are left alone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := connect()
		if err != nil {
			return err
		}
		defer database.Close(db)

		logger := logrus.StandardLogger()
		ledger := services.NewLedgerService(db, services.NewFeePolicy(cfg.Payment), events.Nop{}, logger)
		orders := services.NewOrderService(db, ledger, nil, events.Nop{}, logger)
		window := time.Duration(cfg.Delivery.DisputeWindowHours) * time.Hour

		report, err := services.NewSettler(db, orders, window, nil, logger).SettleDue(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "settled=%d skipped=%d failed=%d\n",
			len(report.Settled), report.Skipped, report.Failed)
		if report.Failed > 0 {
			return fmt.Errorf("%d order(s) failed to settle", report.Failed)
		}
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id> <username>",
	Short: "Mint a caller token signed with the configured JWT secret",
	Long:  "For local development and smoke tests only. Production callers use tokens from the identity provider.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.IsProduction() {
			return fmt.Errorf("refusing to mint tokens in production")
		}

		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		switch models.UserType(tokenUserType) {
		case models.UserTypeBuyer, models.UserTypeSeller, models.UserTypeRider, models.UserTypeAdmin:
		default:
			return fmt.Errorf("unknown user type %q", tokenUserType)
		}

		utils.SetJWTSecret(cfg.JWT.SecretKey)
		token, err := utils.GenerateJWT(userID, args[1], models.UserType(tokenUserType), tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileJSON, "json", false, "Print imbalances as JSON")
	tokenCmd.Flags().StringVar(&tokenUserType, "type", string(models.UserTypeBuyer), "User type: buyer, seller, rider or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")

	rootCmd.AddCommand(migrateCmd, reconcileCmd, settleCmd, tokenCmd)
}

func connect() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
