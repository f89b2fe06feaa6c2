package main

import (
	"fmt"

	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/service"

	"github.com/spf13/cobra"
)

func giftCardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "giftcard",
		Aliases: []string{"gc"},
		Short:   "Issue and correct gift cards",
	}

	cmd.AddCommand(giftCardIssueCmd())
	cmd.AddCommand(giftCardAdjustCmd())
	return cmd
}

func giftCardIssueCmd() *cobra.Command {
	var (
		amount         string
		currency       string
		activate       bool
		recipientName  string
		recipientEmail string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new gift card",
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := model.ParseCents(amount)
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			card, err := a.GiftCardService.Issue(cmd.Context(), service.IssueGiftCardRequest{
				InitialBalance: balance,
				Currency:       currency,
				Activate:       activate,
				RecipientName:  recipientName,
				RecipientEmail: recipientEmail,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  id=%s\n", card.Code, card.CurrentBalanceCents.Format(), card.Status, card.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "initial balance, e.g. 25.00")
	cmd.Flags().StringVar(&currency, "currency", "USD", "currency code")
	cmd.Flags().BoolVar(&activate, "activate", false, "activate immediately")
	cmd.Flags().StringVar(&recipientName, "recipient-name", "", "recipient name")
	cmd.Flags().StringVar(&recipientEmail, "recipient-email", "", "recipient email")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func giftCardAdjustCmd() *cobra.Command {
	var (
		amount string
		reason string
		actor  string
	)

	cmd := &cobra.Command{
		Use:   "adjust [gift-card-id]",
		Short: "Apply a signed balance correction, e.g. --amount=-5.00",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := model.ParseCents(amount)
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.GiftCardService.Adjust(cmd.Context(), args[0], delta, reason, actor)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "adjusted by %s, balance now %s\n", entry.AmountCents.Format(), entry.BalanceAfterCents.Format())
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "signed amount")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded on the ledger")
	cmd.Flags().StringVar(&actor, "actor", "checkoutctl", "operator recorded on the ledger")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}
