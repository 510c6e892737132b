package config

import (
	"fmt"
	"math/big"
)

// ParseWei parses a decimal wei string from YAML (kept as a string in the
// config types to avoid float precision loss on 256-bit quantities).
func ParseWei(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}
