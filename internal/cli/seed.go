package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/textutil"
	"github.com/shopsite/fulfillment/internal/repositories"
)

const seedNameLimit = 200

type seedFile struct {
	Products []seedProduct  `yaml:"products"`
	Cart     []seedCartLine `yaml:"cart"`
	Remove   []string       `yaml:"remove"`
}

type seedProduct struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Price      string `yaml:"price"`
	Stock      int    `yaml:"stock"`
	Available  *bool  `yaml:"available"`
	MerchantID string `yaml:"merchantId"`
}

type seedCartLine struct {
	ID         string `yaml:"id"`
	CustomerID string `yaml:"customerId"`
	ProductID  string `yaml:"productId"`
	Quantity   int    `yaml:"quantity"`
}

func newSeedCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load products and cart lines from a YAML fixture",
		Long: "seed upserts every product, adds every cart line and deletes the products listed under remove, " +
			"all in a single transaction. Orders keep their item snapshots for removed products.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read fixture: %w", err)
			}
			fixture, err := parseSeedFile(data)
			if err != nil {
				return err
			}

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

			if err := applySeed(ctx, container.Repositories, fixture, time.Now().UTC()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products and %d cart lines, removed %d products\n",
				len(fixture.Products), len(fixture.Cart), len(fixture.Remove))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "products.yaml", "YAML fixture with products and cart sections")
	return cmd
}

func parseSeedFile(data []byte) (seedFile, error) {
	var fixture seedFile
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return seedFile{}, fmt.Errorf("parse fixture: %w", err)
	}
	if len(fixture.Products) == 0 && len(fixture.Cart) == 0 && len(fixture.Remove) == 0 {
		return seedFile{}, errors.New("fixture has no products, cart lines or removals")
	}
	for i, id := range fixture.Remove {
		fixture.Remove[i] = strings.TrimSpace(id)
		if fixture.Remove[i] == "" {
			return seedFile{}, fmt.Errorf("remove[%d]: id is required", i)
		}
	}
	return fixture, nil
}

func applySeed(ctx context.Context, reg repositories.Registry, fixture seedFile, now time.Time) error {
	products := make([]domain.Product, 0, len(fixture.Products))
	for i, p := range fixture.Products {
		product, err := p.toDomain(now)
		if err != nil {
			return fmt.Errorf("products[%d]: %w", i, err)
		}
		products = append(products, product)
	}
	lines := make([]domain.CartLine, 0, len(fixture.Cart))
	for i, l := range fixture.Cart {
		line, err := l.toDomain(now)
		if err != nil {
			return fmt.Errorf("cart[%d]: %w", i, err)
		}
		lines = append(lines, line)
	}

	return reg.RunInTx(ctx, func(ctx context.Context) error {
		for _, product := range products {
			if err := reg.Products().Upsert(ctx, product); err != nil {
				return fmt.Errorf("upsert product %s: %w", product.ID, err)
			}
		}
		for _, line := range lines {
			if err := reg.Carts().AddLine(ctx, line); err != nil {
				return fmt.Errorf("add cart line %s: %w", line.ID, err)
			}
		}
		for _, id := range fixture.Remove {
			if err := reg.Products().Delete(ctx, id); err != nil {
				return fmt.Errorf("remove product %s: %w", id, err)
			}
		}
		return nil
	})
}

func (p seedProduct) toDomain(now time.Time) (domain.Product, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return domain.Product{}, errors.New("id is required")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(p.Price))
	if err != nil {
		return domain.Product{}, fmt.Errorf("price %q: %w", p.Price, err)
	}
	if price.IsNegative() {
		return domain.Product{}, fmt.Errorf("price %s must not be negative", price)
	}
	if p.Stock < 0 {
		return domain.Product{}, fmt.Errorf("stock %d must not be negative", p.Stock)
	}
	merchant := strings.TrimSpace(p.MerchantID)
	if merchant == "" {
		return domain.Product{}, errors.New("merchantId is required")
	}
	available := true
	if p.Available != nil {
		available = *p.Available
	}
	return domain.Product{
		ID:          id,
		Name:        textutil.PlainText(p.Name, seedNameLimit),
		Price:       price.Round(2),
		Stock:       p.Stock,
		IsAvailable: available,
		MerchantID:  merchant,
		UpdatedAt:   now,
	}, nil
}

func (l seedCartLine) toDomain(now time.Time) (domain.CartLine, error) {
	id := strings.TrimSpace(l.ID)
	if id == "" {
		id = "crt_" + ulid.Make().String()
	}
	customer := strings.TrimSpace(l.CustomerID)
	product := strings.TrimSpace(l.ProductID)
	if customer == "" || product == "" {
		return domain.CartLine{}, errors.New("customerId and productId are required")
	}
	if l.Quantity <= 0 {
		return domain.CartLine{}, fmt.Errorf("quantity %d must be positive", l.Quantity)
	}
	return domain.CartLine{
		ID:         id,
		CustomerID: customer,
		ProductID:  product,
		Quantity:   l.Quantity,
		CreatedAt:  now,
	}, nil
}
