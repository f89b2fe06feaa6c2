package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"checkout-reconciler/internal/service"

	"github.com/spf13/cobra"
)

type reconcileReport struct {
	GiftCards      []*service.Reconciliation  `json:"gift_cards"`
	SideEffects    []*service.SideEffectIssue `json:"side_effects"`
	GiftCardsTotal int                        `json:"gift_cards_checked"`
}

func reconcileCmd() *cobra.Command {
	var (
		asJSON bool
		grace  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check gift card ledgers and list side effects that need manual follow-up",
		Long: `Reconcile compares every gift card's stored balance against its ledger
and lists side effects that need a human:

  failed   a side effect that ran after the order was created and failed
           (discount usage, gift card redemption or refund, inventory,
           notification enqueue, refund on an unpaid order)
  stalled  a discount or gift card change recorded as pending with the
           order but never completed, older than --grace

Neither is retried automatically. Once handled, mark an entry with
"checkoutctl reconcile resolve".

The command exits non-zero when anything needs attention.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.GiftCardService.ReconcileAll(ctx)
			if err != nil {
				return err
			}
			issues, err := a.ReconcileService.OpenIssues(ctx, time.Now().Add(-grace))
			if err != nil {
				return err
			}

			report := reconcileReport{GiftCardsTotal: len(recs), SideEffects: issues}
			for _, rec := range recs {
				if !rec.Consistent {
					report.GiftCards = append(report.GiftCards, rec)
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(cmd, report)
			}

			if n := len(report.GiftCards) + len(report.SideEffects); n > 0 {
				return fmt.Errorf("reconciliation found %d issues", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().DurationVar(&grace, "grace", 5*time.Minute, "how long a pending side effect may run before it counts as stalled")

	cmd.AddCommand(resolveCmd())
	return cmd
}

func resolveCmd() *cobra.Command {
	var actor, note string

	cmd := &cobra.Command{
		Use:   "resolve [event-id]",
		Short: "Mark a failed or stalled side effect as handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q", args[0])
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ev, err := a.ReconcileService.Resolve(cmd.Context(), uint(id), actor, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s: %s\n", ev.OrderID, ev.Description)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "operator recorded on the resolution")
	cmd.Flags().StringVar(&note, "note", "", "what was done about it")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("note")

	return cmd
}

func printReport(cmd *cobra.Command, report reconcileReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "gift cards checked: %d, inconsistent: %d\n", report.GiftCardsTotal, len(report.GiftCards))

	if len(report.GiftCards) > 0 {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "GIFT CARD\tSTORED\tEXPECTED\tBAD ROWS")
		for _, rec := range report.GiftCards {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", rec.GiftCardID, rec.CurrentBalance.Format(), rec.ExpectedBalance.Format(), len(rec.Mismatches))
		}
		w.Flush()
	}

	fmt.Fprintf(out, "side effects needing follow-up: %d\n", len(report.SideEffects))
	if len(report.SideEffects) > 0 {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tORDER\tEVENT\tAT\tDESCRIPTION")
		for _, issue := range report.SideEffects {
			ev := issue.Event
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", ev.ID, issue.Kind, ev.OrderID, ev.Type, ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.Description)
		}
		w.Flush()
	}
}
