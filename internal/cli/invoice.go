package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/service"
)

// NewInvoiceCommand creates the invoice command group.
func NewInvoiceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Manage invoices",
	}
	cmd.AddCommand(newInvoiceCreateCommand(rootOpts))
	cmd.AddCommand(newInvoiceUpdateCommand(rootOpts))
	cmd.AddCommand(newInvoiceDeleteCommand(rootOpts))
	cmd.AddCommand(newInvoiceListCommand(rootOpts))
	cmd.AddCommand(newInvoiceSetPriceCommand(rootOpts))
	return cmd
}

// parseItem parses "product-id:quantity[:custom-price]".
func parseItem(s string) (model.ItemRequest, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return model.ItemRequest{}, fmt.Errorf("%w: item %q: want product-id:quantity[:price]", service.ErrInvalidInput, s)
	}
	qty, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return model.ItemRequest{}, fmt.Errorf("%w: item %q: invalid quantity", service.ErrInvalidInput, s)
	}
	req := model.ItemRequest{ProductID: parts[0], Quantity: qty}
	if len(parts) == 3 {
		p, err := parsePrice(parts[2])
		if err != nil {
			return model.ItemRequest{}, err
		}
		req.CustomPrice = decimal.NewNullDecimal(p)
	}
	return req, nil
}

func parseItems(specs []string) ([]model.ItemRequest, error) {
	reqs := make([]model.ItemRequest, 0, len(specs))
	for _, s := range specs {
		r, err := parseItem(s)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

func newInvoiceCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var customer string
	var items []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an invoice",
		Long: `Create an invoice with one or more items.

Items are given as product-id:quantity, optionally followed by :price to
override the product's price. Insufficient stock is reported as a warning
and never prevents the invoice from being created.`,
		Example:       `  invsync invoice create --customer "Ada Lovelace" --item 0190a1b2:3 --item 0190a1c4:1:9.99`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				reqs, err := parseItems(items)
				if err != nil {
					return e.out.Fail("failed to create invoice", err)
				}
				detail, out, err := e.svc.CreateInvoice(ctx, customer, reqs)
				if err != nil {
					return e.out.Fail("failed to create invoice", err)
				}
				e.drainIfOnline(ctx, out)
				return e.out.Success(newMutationView("Created invoice "+detail.Invoice.ID, detail, out))
			})
		},
	}

	cmd.Flags().StringVar(&customer, "customer", "", "customer name (required)")
	cmd.Flags().StringArrayVar(&items, "item", nil, "item as product-id:quantity[:price] (repeatable)")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("item")

	return cmd
}

func newInvoiceUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var customer string
	var items []string

	cmd := &cobra.Command{
		Use:           "update <invoice-id>",
		Short:         "Rename the customer and/or replace every item",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				var name *string
				if cmd.Flags().Changed("customer") {
					name = &customer
				}
				var reqs []model.ItemRequest
				if cmd.Flags().Changed("item") {
					var err error
					if reqs, err = parseItems(items); err != nil {
						return e.out.Fail("failed to update invoice", err)
					}
				}
				out, err := e.svc.UpdateInvoice(ctx, args[0], name, reqs)
				if err != nil {
					return e.out.Fail("failed to update invoice", err)
				}
				e.drainIfOnline(ctx, out)
				return e.out.Success(newMutationView("Updated invoice "+args[0], nil, out))
			})
		},
	}

	cmd.Flags().StringVar(&customer, "customer", "", "new customer name")
	cmd.Flags().StringArrayVar(&items, "item", nil, "replacement item as product-id:quantity[:price] (repeatable)")

	return cmd
}

func newInvoiceDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <invoice-id>",
		Short:         "Delete an invoice and its items",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				out, err := e.svc.DeleteInvoice(ctx, args[0])
				if err != nil {
					return e.out.Fail("failed to delete invoice", err)
				}
				e.drainIfOnline(ctx, out)
				return e.out.Success(newMutationView("Deleted invoice "+args[0], nil, out))
			})
		},
	}
}

func newInvoiceListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List invoices, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				invoices, err := e.svc.Invoices(ctx)
				if err != nil {
					return e.out.Fail("failed to list invoices", err)
				}
				return e.out.Success(invoicesView(invoices))
			})
		},
	}
}

func newInvoiceSetPriceCommand(rootOpts *RootOptions) *cobra.Command {
	var clearPrice bool

	cmd := &cobra.Command{
		Use:   "set-price <invoice-id> <item-id> [price]",
		Short: "Set or clear an item's custom price",
		Example: `  invsync invoice set-price 0190a1b2 0190a1b3 4.25
  invsync invoice set-price 0190a1b2 0190a1b3 --clear`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				var price *decimal.Decimal
				switch {
				case clearPrice && len(args) == 3:
					return e.out.Fail("failed to set price", fmt.Errorf("%w: give a price or --clear, not both", service.ErrInvalidInput))
				case !clearPrice && len(args) == 2:
					return e.out.Fail("failed to set price", fmt.Errorf("%w: a price or --clear is required", service.ErrInvalidInput))
				case !clearPrice:
					p, err := parsePrice(args[2])
					if err != nil {
						return e.out.Fail("failed to set price", err)
					}
					price = &p
				}

				out, err := e.svc.SetItemPrice(ctx, args[0], args[1], price)
				if err != nil {
					return e.out.Fail("failed to set price", err)
				}
				e.drainIfOnline(ctx, out)
				return e.out.Success(newMutationView("Updated price of item "+args[1], nil, out))
			})
		},
	}

	cmd.Flags().BoolVar(&clearPrice, "clear", false, "remove the custom price")

	return cmd
}
