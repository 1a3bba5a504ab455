package domain

import (
	"strings"

	"github.com/DRSN-tech/product-identity/pkg/e"
)

// SanitizeTenant оставляет в идентификаторе тенанта только [a-zA-Z0-9_-].
// Пустой результат - e.ErrInvalidTenant: ключи разных тенантов не должны пересекаться.
func SanitizeTenant(tenant string) (string, error) {
	var b strings.Builder
	b.Grow(len(tenant))

	for _, r := range tenant {
		if isTenantRune(r) {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "", e.ErrInvalidTenant
	}

	return b.String(), nil
}

func isTenantRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	default:
		return false
	}
}
