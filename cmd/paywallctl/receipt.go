package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/paywall/pkg/receipt"
)

type receiptView struct {
	*receipt.Result
	Active bool `json:"active"`
}

func newReceiptCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Talk to the receipt validation chain directly",
	}

	var productID, userID string
	verify := &cobra.Command{
		Use:   "verify <receipt-id>",
		Short: "Validate a receipt through the backend, the vendor service or the development fallback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, nil, func(ctx context.Context, d deps) error {
				req := receipt.Request{ReceiptID: args[0], ProductID: productID, UserID: userID}
				res, err := d.Validator.Validate(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), receiptView{Result: res, Active: d.Validator.VerifyActive(ctx, req)})
			})
		},
	}
	verify.Flags().StringVar(&productID, "product", "", "product id the receipt was issued for")
	verify.Flags().StringVar(&userID, "user", "", "store user id, required by the vendor service")

	cmd.AddCommand(verify)
	return cmd
}
