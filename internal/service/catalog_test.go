package service

import (
	"testing"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStaticCatalog_RejectsProductWithoutID(t *testing.T) {
	_, err := NewStaticCatalog([]Product{{Title: "Nameless"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewStaticCatalog_RejectsDuplicateID(t *testing.T) {
	_, err := NewStaticCatalog([]Product{
		{ID: "pro", Period: domain.BillingPeriod{Count: 1, Unit: domain.PeriodUnitMonth}},
		{ID: "pro", Period: domain.BillingPeriod{Count: 1, Unit: domain.PeriodUnitMonth}},
	})
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestNewStaticCatalog_RejectsNonLifetimeWithoutPeriod(t *testing.T) {
	_, err := NewStaticCatalog([]Product{{ID: "pro"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewStaticCatalog_LifetimeNeedsNoPeriod(t *testing.T) {
	catalog, err := NewStaticCatalog([]Product{{ID: "lifetime", Lifetime: true}})
	require.NoError(t, err)

	_, err = catalog.Get("lifetime")
	assert.NoError(t, err)
}

func TestCatalogGet_UnknownProduct(t *testing.T) {
	catalog, err := NewStaticCatalog(nil)
	require.NoError(t, err)

	_, err = catalog.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalogList_SortedByID(t *testing.T) {
	catalog, err := NewStaticCatalog([]Product{
		{ID: "b", Lifetime: true},
		{ID: "a", Lifetime: true},
	})
	require.NoError(t, err)

	list := catalog.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func TestProductTaxMath(t *testing.T) {
	p := Product{Price: 9.99, TaxRate: 20}

	// 9.99 * 20% = 1.998, округляется до цента
	assert.InDelta(t, 2.00, p.TaxAmount(), 0.001)
	assert.InDelta(t, 11.99, p.Total(), 0.001)
}

func TestProductTaxMath_ZeroRate(t *testing.T) {
	p := Product{Price: 9.99}

	assert.Zero(t, p.TaxAmount())
	assert.InDelta(t, 9.99, p.Total(), 0.001)
}
