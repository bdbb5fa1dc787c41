package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/services"
)

const operatorID = "fulfillmentctl"

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print merchant or platform-wide reports",
	}

	var (
		merchantID string
		top        int
	)
	sales := &cobra.Command{
		Use:   "sales",
		Short: "Print sales totals, order counts by status and top products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := a.config(ctx)
			if err != nil {
				return err
			}
			container, err := a.container(ctx, cfg)
			if err != nil {
				return err
			}
			defer container.Close(context.WithoutCancel(ctx))

			report, err := collectSalesReport(ctx, container.Services.Reports, strings.TrimSpace(merchantID), top)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSalesReport(report))
			return nil
		},
	}
	sales.Flags().StringVar(&merchantID, "merchant", "", "restrict the report to one merchant's products")
	sales.Flags().IntVar(&top, "top", 10, "number of top products to list")
	cmd.AddCommand(sales)
	return cmd
}

func collectSalesReport(ctx context.Context, reports services.ReportingService, merchantID string, top int) (salesReport, error) {
	caller := domain.Caller{UserID: operatorID, Role: domain.RoleAdmin}
	scope := services.ReportScopeAdmin
	label := "all merchants"
	if merchantID != "" {
		caller = domain.Caller{UserID: merchantID, Role: domain.RoleMerchant}
		scope = services.ReportScopeMerchant
		label = "merchant " + merchantID
	}

	summary, err := reports.SalesSummary(ctx, caller, scope)
	if err != nil {
		return salesReport{}, fmt.Errorf("sales summary: %w", err)
	}
	counts, err := reports.StatusCounts(ctx, caller, scope)
	if err != nil {
		return salesReport{}, fmt.Errorf("status counts: %w", err)
	}
	products, err := reports.TopProducts(ctx, caller, scope, top)
	if err != nil {
		return salesReport{}, fmt.Errorf("top products: %w", err)
	}
	return salesReport{Scope: label, Summary: summary, Counts: counts, TopProducts: products}, nil
}
