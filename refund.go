package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lead-Studios/veritix-backend-sub005/services"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func refundCmd() *cobra.Command {
	var (
		orderID     string
		destination string
		amount      string
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "refund",
		Short: "Send a buyer's funds back from the platform account",
		Long: `Submit a refund payment for an order.

Without --amount the amount recorded as received on the order is refunded,
which is what a FAILED order (late or insufficient payment) holds. The refund
hash is stored on the order and a second refund is refused without --force.

Examples:
  ticket-orders refund --order 6f1c2d3e-... --destination GABC...
  ticket-orders refund --order 6f1c2d3e-... --destination GABC... --amount 12.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			id, err := uuid.Parse(orderID)
			if err != nil {
				return fmt.Errorf("invalid --order: %w", err)
			}

			value, err := parseRefundAmount(amount)
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			hash, err := a.refundService().RefundOrder(ctx, a.store.Orders(), services.RefundRequest{
				OrderID:     id,
				Destination: destination,
				Amount:      value,
				Force:       force,
			})
			if hash != "" {
				fmt.Println(hash)
			}
			if err != nil {
				return err
			}
			a.log.Info("refund sent", zap.String("order_id", id.String()), zap.String("tx_hash", hash))
			return nil
		},
	}

	cmd.Flags().StringVar(&orderID, "order", "", "order the refund belongs to")
	cmd.Flags().StringVar(&destination, "destination", "", "account that receives the refund")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in XLM (defaults to the amount received)")
	cmd.Flags().BoolVar(&force, "force", false, "refund even if the order already records a refund")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("destination")

	return cmd
}

// parseRefundAmount returns zero for an empty flag.
func parseRefundAmount(flag string) (decimal.Decimal, error) {
	if flag == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(flag)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid --amount: %w", err)
	}
	if !v.IsPositive() {
		return decimal.Zero, errors.New("invalid --amount: must be positive")
	}
	return v, nil
}
