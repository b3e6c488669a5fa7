package in

import (
	"context"

	"github.com/frappe/mail/core/domain"
)

// SpamGate implements the spam-scanning path.
type SpamGate interface {
	Score(ctx context.Context, message []byte) (float64, error)
	IsSpam(ctx context.Context, message []byte, emailType domain.EmailType) (bool, float64, error)
	Scan(ctx context.Context, message []byte, mode domain.ScanningMode, hybridThreshold float64) (*domain.SpamCheckLog, error)
}

// BlocklistGate implements the blocklist path: group
// lookup, lazily creating a non-blacklisted entry on first sight.
type BlocklistGate interface {
	Lookup(ctx context.Context, ip string) (*domain.IPBlacklist, error)
}
