package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2024-03-05", "2024-03-05 13:45:00", "2024-03-05T13:45:00Z"} {
		d, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, NewDate(2024, time.March, 5), d)
		assert.Equal(t, "2024-03-05", d.String())
	}

	_, err := ParseDate("05/03/2024")
	assert.Error(t, err)
}

func TestSaleRecordUnitPriceAndValidate(t *testing.T) {
	s := SaleRecord{StoreID: 100, SKU: "SKU1000", Date: NewDate(2024, 1, 1), QuantitySold: 2, FinalPrice: decimal.NewFromInt(200)}
	require.NoError(t, s.Validate())
	assert.True(t, s.UnitPrice().Equal(decimal.NewFromInt(100)))

	s.QuantitySold = 0
	assert.ErrorContains(t, s.Validate(), "quantity_sold")

	s.QuantitySold = 1
	s.FinalPrice = decimal.NewFromInt(-1)
	assert.ErrorContains(t, s.Validate(), "final_price")
}

func TestCompetitorProductDecodesTextNumberAndNull(t *testing.T) {
	raw := `[
		{"sku_competidor": "SUB-1", "precio_descuento": "$1,299.00"},
		{"sku_competidor": "SUB-2", "precio_descuento": 899.5},
		{"sku_competidor": "SUB-3", "precio_descuento": null},
		{"sku_competidor": "SUB-4"}
	]`
	var products []CompetitorProduct
	require.NoError(t, json.Unmarshal([]byte(raw), &products))
	require.Len(t, products, 4)

	assert.Equal(t, NewPriceText("$1,299.00"), products[0].DiscountPrice)
	assert.Equal(t, NewPriceText("899.5"), products[1].DiscountPrice)
	assert.False(t, products[2].DiscountPrice.Valid)
	assert.Nil(t, products[3].DiscountPrice.Ptr())

	out, err := json.Marshal(products[2].DiscountPrice)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestDateJSON(t *testing.T) {
	b, err := json.Marshal(NewDate(2024, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-02"`, string(b))

	var d Date
	require.NoError(t, json.Unmarshal(b, &d))
	assert.Equal(t, 2, d.Day())
	assert.Error(t, json.Unmarshal([]byte(`20240102`), &d))
}

func TestPriceTextExpandsExponentNumbers(t *testing.T) {
	var products []CompetitorProduct
	raw := `[{"sku_competidor":"C1","precio_descuento":1e3},{"sku_competidor":"C2","precio_descuento":1.5e2},{"sku_competidor":"C3","precio_descuento":2.5E-1}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &products))

	assert.Equal(t, NewPriceText("1000"), products[0].DiscountPrice)
	assert.Equal(t, NewPriceText("150"), products[1].DiscountPrice)
	assert.Equal(t, NewPriceText("0.25"), products[2].DiscountPrice)
}
