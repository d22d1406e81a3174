package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/paywall/pkg/paywall"
)

type paywallView struct {
	paywall.State
	CanDismiss bool `json:"canDismiss"`
}

func newPaywallCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paywall",
		Short: "Inspect and change the persisted paywall state",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Print the dismissal count and last showing",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.run(cmd, nil, func(ctx context.Context, d deps) error {
					return printPaywall(ctx, cmd, d)
				})
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Present the paywall as if the user opened it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.run(cmd, nil, func(ctx context.Context, d deps) error {
					return printJSON(cmd.OutOrStdout(), d.Paywall.Show(ctx))
				})
			},
		},
		&cobra.Command{
			Use:   "dismiss",
			Short: "Close the paywall; fails once it has turned hard",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.run(cmd, nil, func(ctx context.Context, d deps) error {
					if !d.Paywall.Show(ctx).Visible {
						return printPaywall(ctx, cmd, d)
					}
					if err := d.Paywall.Dismiss(ctx); err != nil {
						return err
					}
					return printPaywall(ctx, cmd, d)
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Forget dismissals and the last showing",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.run(cmd, nil, func(ctx context.Context, d deps) error {
					if err := d.Policy.Reset(ctx); err != nil {
						return err
					}
					return printPaywall(ctx, cmd, d)
				})
			},
		},
	)
	return cmd
}

func printPaywall(ctx context.Context, cmd *cobra.Command, d deps) error {
	st, err := d.Policy.State(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), paywallView{State: st, CanDismiss: d.Policy.CanDismiss(ctx)})
}
