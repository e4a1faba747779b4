package catalog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsufficientStockErrorUnwrapsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("add to cart: %w", &InsufficientStockError{ProductID: "A", Requested: 3, Available: 2})

	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	require.Equal(t, 2, ise.Available)
	require.Contains(t, err.Error(), "requested 3, available 2")
}
