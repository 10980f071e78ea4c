package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	currencyRegex   = regexp.MustCompile(`^[A-Z]{3}$`)
	storefrontRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)
)

// ValidateCurrency checks if a currency code is ISO 4217.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// NormalizeCurrency upper-cases gateway currencies ("usd" -> "USD").
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidatePositiveAmount checks that an amount is positive (in cents).
func ValidatePositiveAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", amount)
	}
	return nil
}

// ValidateStorefrontKey checks the storefront slug format.
func ValidateStorefrontKey(key string) error {
	if !storefrontRegex.MatchString(key) {
		return fmt.Errorf("invalid storefront key: %q", key)
	}
	return nil
}
