package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/paywall/pkg/subscription"
)

type statusView struct {
	subscription.Status
	LastVerified *time.Time `json:"lastVerified,omitempty"`
}

type resultView struct {
	Success       bool                `json:"success"`
	Cancelled     bool                `json:"cancelled,omitempty"`
	ReceiptID     string              `json:"receiptId,omitempty"`
	IsTrialPeriod bool                `json:"isTrialPeriod,omitempty"`
	Message       string              `json:"message,omitempty"`
	Status        subscription.Status `json:"status"`
}

func newResultView(res subscription.PurchaseResult, st subscription.Status) resultView {
	return resultView{
		Success:       res.Success,
		Cancelled:     res.Cancelled(),
		ReceiptID:     res.ReceiptID,
		IsTrialPeriod: res.IsTrialPeriod,
		Message:       res.Message(),
		Status:        st,
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the purchase history and print the subscription status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, nil, func(ctx context.Context, d deps) error {
				if err := initEngine(ctx, d); err != nil {
					return err
				}
				view := statusView{Status: d.Engine.Status()}
				if last, ok := d.Engine.LastVerified(ctx); ok {
					view.LastVerified = &last
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func newProductsCommand(opts *rootOptions) *cobra.Command {
	var corrupt map[string]string

	cmd := &cobra.Command{
		Use:   "products",
		Short: "Load and list the catalog products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tweak := func(cfg *Config) error {
				if len(corrupt) > 0 {
					cfg.Sandbox.CorruptPrices = corrupt
				}
				return nil
			}
			return opts.run(cmd, tweak, func(ctx context.Context, d deps) error {
				if err := initEngine(ctx, d); err != nil {
					return err
				}
				products, err := d.Engine.LoadProducts(ctx, d.Catalog.SKUs())
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PRODUCT\tTITLE\tPRICE\tPERIOD\tTRIAL")
				for _, p := range products {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ProductID, p.Title, p.LocalizedPrice, p.SubscriptionPeriod, p.FreeTrialPeriod)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringToStringVar(&corrupt, "corrupt", nil, "make the store report a broken price, e.g. sub_monthly=$0.00")
	return cmd
}

func newPurchaseCommand(opts *rootOptions) *cobra.Command {
	var (
		outcome string
		delay   time.Duration
		drop    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "purchase <monthly|quarterly|product-id>",
		Short: "Buy a subscription in the sandbox store",
		Example: `  paywallctl purchase monthly
  paywallctl purchase quarterly --outcome cancel
  paywallctl purchase monthly --drop-events --delay 3s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tweak := func(cfg *Config) error {
				if cmd.Flags().Changed("outcome") {
					cfg.Sandbox.Outcome = outcome
				}
				if cmd.Flags().Changed("delay") {
					cfg.Sandbox.Delay = delay
				}
				if drop {
					cfg.Sandbox.DropEvents = true
				}
				if timeout > 0 {
					cfg.Engine.PurchaseTimeout = timeout
				}
				return nil
			}
			return opts.run(cmd, tweak, func(ctx context.Context, d deps) error {
				productID, err := resolvePlan(d.Catalog, args[0])
				if err != nil {
					return err
				}
				if err := initEngine(ctx, d); err != nil {
					return err
				}

				res := d.Engine.Purchase(ctx, productID)
				if err := printJSON(cmd.OutOrStdout(), newResultView(res, d.Engine.Status())); err != nil {
					return err
				}
				if res.Success || res.Cancelled() {
					return nil
				}
				return res.Err
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&outcome, "outcome", "success", "how the store ends the purchase: success, cancel, fail, manual")
	flags.DurationVar(&delay, "delay", time.Second, "how long the store takes to answer")
	flags.BoolVar(&drop, "drop-events", false, "never deliver the purchase event; the engine has to find the receipt by polling")
	flags.DurationVar(&timeout, "timeout", 0, "purchase timeout (default from PURCHASE_TIMEOUT)")
	return cmd
}

func newRestoreCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore purchases from the store history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, nil, func(ctx context.Context, d deps) error {
				if err := initEngine(ctx, d); err != nil {
					return err
				}
				res := d.Engine.RestorePurchases(ctx)
				return printJSON(cmd.OutOrStdout(), newResultView(res, d.Engine.Status()))
			})
		},
	}
}

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-verify the current subscription now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, nil, func(ctx context.Context, d deps) error {
				if err := initEngine(ctx, d); err != nil {
					return err
				}
				view := statusView{Status: d.Engine.VerifyNow(ctx)}
				if last, ok := d.Engine.LastVerified(ctx); ok {
					view.LastVerified = &last
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

// resolvePlan accepts a tier name or a product id.
func resolvePlan(cat subscription.Catalog, arg string) (string, error) {
	for _, p := range cat.Plans {
		if p.ProductID == arg || string(p.Tier) == arg {
			return p.ProductID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errUnknownPlan, arg)
}
