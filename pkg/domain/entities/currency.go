package entities

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CurrencyCode represents an ISO 4217 style currency identifier
type CurrencyCode string

// ParseCurrency normalizes and validates a currency code
func ParseCurrency(raw string) (CurrencyCode, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: currency code must have 3 letters, got %q", ErrInvalidInput, raw)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: currency code must be alphabetic, got %q", ErrInvalidInput, raw)
		}
	}
	return CurrencyCode(code), nil
}

// Valid reports whether the code is a normalized three letter code
func (c CurrencyCode) Valid() bool {
	parsed, err := ParseCurrency(string(c))
	return err == nil && parsed == c
}

// Purpose is the direction of a supply lot or a demand
type Purpose int

const (
	Purchase Purpose = iota + 1
	Sale
)

// String method for Purpose enum
func (p Purpose) String() string {
	switch p {
	case Purchase:
		return "Purchase"
	case Sale:
		return "Sale"
	default:
		return "Unknown"
	}
}

// Valid reports whether p is a known purpose
func (p Purpose) Valid() bool {
	return p == Purchase || p == Sale
}

// ParsePurpose parses a purpose name, case-insensitively
func ParsePurpose(raw string) (Purpose, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "purchase", "buy":
		return Purchase, nil
	case "sale", "sell":
		return Sale, nil
	default:
		return 0, fmt.Errorf("%w: unknown purpose %q", ErrInvalidInput, raw)
	}
}

// BatchKind classifies how a supply batch was submitted
type BatchKind int

const (
	// AnyKind matches every batch kind; it is never a valid kind for a batch itself.
	AnyKind BatchKind = iota
	Daily
	Holiday
	BranchDeal
	Interbank
)

// String method for BatchKind enum
func (k BatchKind) String() string {
	switch k {
	case AnyKind:
		return "Any"
	case Daily:
		return "Daily"
	case Holiday:
		return "Holiday"
	case BranchDeal:
		return "BranchDeal"
	case Interbank:
		return "Interbank"
	default:
		return "Unknown"
	}
}

// Matches reports whether a batch of kind other satisfies a filter of kind k
func (k BatchKind) Matches(other BatchKind) bool {
	return k == AnyKind || k == other
}

// ParseBatchKind parses a batch kind name; an empty string yields AnyKind
func ParseBatchKind(raw string) (BatchKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "any":
		return AnyKind, nil
	case "daily":
		return Daily, nil
	case "holiday":
		return Holiday, nil
	case "branchdeal", "branch_deal", "branch-deal":
		return BranchDeal, nil
	case "interbank":
		return Interbank, nil
	default:
		return AnyKind, fmt.Errorf("%w: unknown batch kind %q", ErrInvalidInput, raw)
	}
}

// QueueKey identifies one FIFO wait line
type QueueKey struct {
	Currency CurrencyCode
	Purpose  Purpose
}

// String renders the key as "CUR|Purpose"
func (k QueueKey) String() string {
	return fmt.Sprintf("%s|%s", k.Currency, k.Purpose)
}

// NewID returns a fresh random identifier
func NewID() string {
	return uuid.NewString()
}
