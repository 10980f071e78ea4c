package infra

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// CentsFromNumeric reads a numeric(15,0) money column. Fractional values and
// NULL are rejected: every amount in the ledger is whole minor units.
func CentsFromNumeric(n pgtype.Numeric) (int64, error) {
	if !n.Valid {
		return 0, fmt.Errorf("numeric value is NULL")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return 0, fmt.Errorf("numeric value is not finite")
	}
	v, err := n.Int64Value()
	if err != nil {
		return 0, fmt.Errorf("numeric to cents: %w", err)
	}
	return v.Int64, nil
}

// CentsToNumeric encodes minor units for a numeric(15,0) column.
func CentsToNumeric(cents int64) pgtype.Numeric {
	return pgtype.Numeric{Int: big.NewInt(cents), Exp: 0, InfinityModifier: pgtype.Finite, Valid: true}
}
