package spam

import (
	"context"

	"github.com/frappe/mail/core/domain"
	"github.com/frappe/mail/core/port/out"
)

// Blocklist implements in.BlocklistGate: group-scoped IP reputation
// lookup, auto-provisioning a non-blacklisted entry the first time a
// group is seen.
type Blocklist struct {
	repo out.IPBlacklistRepository
}

func NewBlocklist(repo out.IPBlacklistRepository) *Blocklist {
	return &Blocklist{repo: repo}
}

func (b *Blocklist) Lookup(ctx context.Context, ip string) (*domain.IPBlacklist, error) {
	group := domain.IPGroup(ip)
	entry, err := b.repo.LookupGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return entry, nil
	}

	entry = &domain.IPBlacklist{
		IPAddress:         ip,
		IPVersion:         domain.IPVersion(ip),
		IPAddressExpanded: ip,
		IPGroup:           group,
		IsBlacklisted:     false,
	}
	if err := b.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
