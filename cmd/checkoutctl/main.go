package main

import (
	"fmt"
	"os"
	"time"

	"checkout-reconciler/internal/app"
	"checkout-reconciler/internal/config"
	"checkout-reconciler/internal/logging"
	"checkout-reconciler/internal/middleware"
	"checkout-reconciler/internal/notify"
	"checkout-reconciler/internal/seed"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "checkoutctl",
		Short:        "Operator tools for the checkout reconciler",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(giftCardCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	a, err := app.New(cfg, logging.New(cfg.Log))
	if err != nil {
		return nil, err
	}
	if err := a.Migrate(); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file]",
		Short: "Load products, discount codes and gift cards from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := seed.Load(args[0])
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := seed.Apply(cmd.Context(), f, a.Products, a.DiscountService, a.GiftCardService)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "products: %d\n", res.Products)
			fmt.Fprintf(out, "discounts: %d created, %d already present\n", res.Discounts, res.DiscountsSkipped)
			for _, card := range res.GiftCards {
				fmt.Fprintf(out, "gift card %s  %s  %s\n", card.Code, card.CurrentBalanceCents.Format(), card.Status)
			}
			return nil
		},
	}
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and deliver queued notifications",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "deliver",
		Short: "Make one delivery attempt for every due notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Config.Notify.URL == "" {
				return fmt.Errorf("NOTIFY_URL is not configured")
			}

			d := notify.NewDispatcher(a.Config.Notify, a.Outbox, a.Logger)
			n, err := d.DeliverPending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered %d notifications\n", n)
			return nil
		},
	})

	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Admin.JWTSecret == "" {
				return fmt.Errorf("ADMIN_JWT_SECRET is not configured")
			}

			token, err := middleware.IssueAdminToken(cfg.Admin.JWTSecret, subject, middleware.RoleAdmin, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "operator identity recorded on audit entries")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
