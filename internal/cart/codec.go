package cart

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_marketplace/internal/domain"
)

var ErrCorruptSnapshot = errors.New("corrupt cart snapshot")

func Encode(c *Cart) ([]byte, error) {
	data, err := json.Marshal(c.State())
	if err != nil {
		return nil, fmt.Errorf("failed to encode cart: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot and recomputes its derived totals.
func Decode(data []byte) (*Cart, error) {
	var state domain.CartState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return FromState(state), nil
}
