package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/service"
)

// NewProductCommand creates the product command group.
func NewProductCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage products",
	}
	cmd.AddCommand(newProductAddCommand(rootOpts))
	cmd.AddCommand(newProductUpdateCommand(rootOpts))
	cmd.AddCommand(newProductDeleteCommand(rootOpts))
	cmd.AddCommand(newProductListCommand(rootOpts))
	return cmd
}

func parsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid price %q", service.ErrInvalidInput, s)
	}
	return d, nil
}

// drainIfOnline replays a change queued while online behind earlier ones.
func (e *env) drainIfOnline(ctx context.Context, out service.Outcome) {
	if !out.Queued || !e.monitor.IsOnline() {
		return
	}
	if _, err := e.sync.DrainOnce(ctx); err != nil {
		slog.Warn("sync after change failed", "error", err)
	}
}

func newProductAddCommand(rootOpts *RootOptions) *cobra.Command {
	var name, price string
	var stockLevel int64

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a product",
		Example: `  invsync product add --name Pen --price 1.50 --stock 100
  invsync product add --name Ink --price 3 --offline`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				p, err := parsePrice(price)
				if err != nil {
					return e.out.Fail("failed to create product", err)
				}
				product, out, err := e.svc.CreateProduct(ctx, name, p, stockLevel)
				if err != nil {
					return e.out.Fail("failed to create product", err)
				}
				e.drainIfOnline(ctx, out)
				return e.out.Success(newMutationView("Created product "+product.ID, product, out))
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "product name (required)")
	cmd.Flags().StringVar(&price, "price", "0", "unit price")
	cmd.Flags().Int64Var(&stockLevel, "stock", 0, "nominal stock")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newProductUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var name, price string
	var stockLevel int64

	cmd := &cobra.Command{
		Use:           "update <product-id>",
		Short:         "Update a product's name, price or stock",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				var patch model.ProductPatch
				if cmd.Flags().Changed("name") {
					patch.Name = &name
				}
				if cmd.Flags().Changed("price") {
					p, err := parsePrice(price)
					if err != nil {
						return e.out.Fail("failed to update product", err)
					}
					patch.Price = &p
				}
				if cmd.Flags().Changed("stock") {
					patch.Stock = &stockLevel
				}

				product, out, err := e.svc.UpdateProduct(ctx, args[0], patch)
				if err != nil {
					return e.out.Fail("failed to update product", err)
				}
				e.drainIfOnline(ctx, out)
				return e.out.Success(newMutationView("Updated product "+product.ID, product, out))
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&price, "price", "", "new unit price")
	cmd.Flags().Int64Var(&stockLevel, "stock", 0, "new nominal stock")

	return cmd
}

func newProductDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <product-id>",
		Short:         "Delete a product not referenced by any invoice",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				out, err := e.svc.DeleteProduct(ctx, args[0])
				if err != nil {
					return e.out.Fail("failed to delete product", err)
				}
				e.drainIfOnline(ctx, out)
				return e.out.Success(newMutationView("Deleted product "+args[0], nil, out))
			})
		},
	}
}

func newProductListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List products with remaining stock",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				products, err := e.svc.Products(ctx)
				if err != nil {
					return e.out.Fail("failed to list products", err)
				}
				remaining, err := e.svc.RemainingStockAll(ctx)
				if err != nil {
					return e.out.Fail("failed to compute remaining stock", err)
				}
				view := make(productsView, len(products))
				for i, p := range products {
					view[i] = productRow{Product: p, Remaining: remaining[p.ID]}
				}
				return e.out.Success(view)
			})
		},
	}
}
