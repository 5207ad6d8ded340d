package domain

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateLines(t *testing.T) {
	order := uuid.New()
	p := uuid.New()

	assert.NoError(t, ValidateLines(order, []OrderLine{{ProductID: p, Quantity: 1}}))
	assert.NoError(t, ValidateLines(order, []OrderLine{{ProductID: p, Quantity: MaxQuantity - 1}, {ProductID: p, Quantity: 1}}))

	cases := map[string]struct {
		order uuid.UUID
		lines []OrderLine
	}{
		"nil order":      {uuid.Nil, []OrderLine{{ProductID: p, Quantity: 1}}},
		"empty lines":    {order, nil},
		"nil product":    {order, []OrderLine{{ProductID: uuid.Nil, Quantity: 1}}},
		"zero quantity":  {order, []OrderLine{{ProductID: p, Quantity: 0}}},
		"negative":       {order, []OrderLine{{ProductID: p, Quantity: -3}}},
		"line too large": {order, []OrderLine{{ProductID: p, Quantity: MaxQuantity + 1}}},
		"total overflows": {order, []OrderLine{
			{ProductID: p, Quantity: math.MaxInt/2 + 1},
			{ProductID: p, Quantity: math.MaxInt/2 + 1},
		}},
		"total too large": {order, []OrderLine{
			{ProductID: p, Quantity: MaxQuantity},
			{ProductID: p, Quantity: 1},
		}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateLines(tc.order, tc.lines), ErrInvalidOrder)
		})
	}
}

func TestTotalsByProduct_MergesDuplicateLines(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	totals := TotalsByProduct([]OrderLine{
		{ProductID: a, Quantity: 2},
		{ProductID: b, Quantity: 1},
		{ProductID: a, Quantity: 3},
	})
	assert.Equal(t, map[uuid.UUID]int{a: 5, b: 1}, totals)
}

func TestProduct_Validate(t *testing.T) {
	assert.NoError(t, (&Product{Quantity: 0}).Validate())
	assert.ErrorIs(t, (&Product{Quantity: -1}).Validate(), ErrInvalidProduct)
	assert.ErrorIs(t, (&Product{Quantity: MaxQuantity + 1}).Validate(), ErrInvalidProduct)
}
