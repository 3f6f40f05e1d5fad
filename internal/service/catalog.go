package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/Dhoini/Billing-engine/internal/domain"
)

// Product позиция каталога: что продаем и на каких условиях
type Product struct {
	ID            string               `json:"id"`
	Title         string               `json:"title"`
	Price         float64              `json:"price"`
	TaxRate       float64              `json:"tax_rate"` // проценты
	Currency      string               `json:"currency"`
	Period        domain.BillingPeriod `json:"period"`
	Lifetime      bool                 `json:"lifetime"` // без продлений и истечения
	TrialDays     int                  `json:"trial_days,omitempty"`
	Roles         []string             `json:"roles,omitempty"` // роли, выдаваемые при активации
	StripePriceID string               `json:"stripe_price_id,omitempty"`
}

// TaxAmount возвращает сумму налога, округленную до цента
func (p Product) TaxAmount() float64 {
	return math.Round(p.Price*p.TaxRate) / 100
}

// Total возвращает цену с налогом
func (p Product) Total() float64 {
	return math.Round(p.Price*100+p.Price*p.TaxRate) / 100
}

// ProductCatalog каталог продуктов. Источником служит конфигурация,
// изменение каталога требует рестарта.
type ProductCatalog interface {
	Get(productID string) (Product, error)
	List() []Product
}

type staticCatalog struct {
	products map[string]Product
}

// NewStaticCatalog создает каталог по списку продуктов из конфигурации
func NewStaticCatalog(products []Product) (ProductCatalog, error) {
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog: product without id: %w", domain.ErrInvalidInput)
		}
		if _, exists := byID[p.ID]; exists {
			return nil, fmt.Errorf("catalog: duplicate product %q: %w", p.ID, domain.ErrDuplicate)
		}
		if !p.Lifetime && p.Period.Count <= 0 {
			return nil, fmt.Errorf("catalog: product %q has no billing period: %w", p.ID, domain.ErrInvalidInput)
		}
		byID[p.ID] = p
	}
	return &staticCatalog{products: byID}, nil
}

// Get возвращает продукт по ID
func (c *staticCatalog) Get(productID string) (Product, error) {
	p, ok := c.products[productID]
	if !ok {
		return Product{}, fmt.Errorf("product %q: %w", productID, domain.ErrNotFound)
	}
	return p, nil
}

// List возвращает продукты, отсортированные по ID
func (c *staticCatalog) List() []Product {
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
