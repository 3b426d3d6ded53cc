package products

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

type seedProduct struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Price       string        `yaml:"price"`
	Images      []string      `yaml:"images"`
	Category    string        `yaml:"category"`
	Brand       string        `yaml:"brand"`
	Inventory   int           `yaml:"inventory"`
	Variants    []seedVariant `yaml:"variants"`
}

type seedVariant struct {
	Size          string `yaml:"size"`
	Color         string `yaml:"color"`
	SKU           string `yaml:"sku"`
	PriceOverride string `yaml:"priceOverride"`
	Inventory     int    `yaml:"inventory"`
}

// ParseSeed decodes a YAML catalog fixture.
func ParseSeed(r io.Reader) ([]NewProduct, error) {
	var f seedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog seed: %w", err)
	}

	out := make([]NewProduct, 0, len(f.Products))
	for _, sp := range f.Products {
		price, err := decimal.NewFromString(sp.Price)
		if err != nil {
			return nil, fmt.Errorf("product %q: invalid price %q: %w", sp.Name, sp.Price, err)
		}
		np := NewProduct{
			Name:        sp.Name,
			Description: sp.Description,
			Price:       price,
			Images:      sp.Images,
			Category:    sp.Category,
			Brand:       sp.Brand,
			Inventory:   sp.Inventory,
		}
		for _, sv := range sp.Variants {
			nv := NewVariant{Size: sv.Size, Color: sv.Color, SKU: sv.SKU, Inventory: sv.Inventory}
			if sv.PriceOverride != "" {
				override, err := decimal.NewFromString(sv.PriceOverride)
				if err != nil {
					return nil, fmt.Errorf("variant %q: invalid priceOverride: %w", sv.SKU, err)
				}
				nv.PriceOverride = &override
			}
			np.Variants = append(np.Variants, nv)
		}
		out = append(out, np)
	}
	return out, nil
}

// SeedFromFile loads the fixture at path into an empty catalog. It does
// nothing when products already exist.
func (s *Service) SeedFromFile(ctx context.Context, path string) (int, error) {
	n, err := s.store.CountProducts(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("catalog already populated, skipping seed", slog.Int("Products", n))
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open catalog seed: %w", err)
	}
	defer f.Close()

	list, err := ParseSeed(f)
	if err != nil {
		return 0, err
	}
	for i, np := range list {
		if _, err := s.Create(ctx, np); err != nil {
			return i, fmt.Errorf("seed product %q: %w", np.Name, err)
		}
	}
	slog.Info("catalog seeded", slog.Int("Products", len(list)))
	return len(list), nil
}
