package spam

import (
	"context"
	"testing"
)

func TestBlocklistLookupAutoProvisionsNewGroup(t *testing.T) {
	repo := newFakeBlacklistRepo()
	blocklist := NewBlocklist(repo)

	entry, err := blocklist.Lookup(context.Background(), "198.51.100.23")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if entry.IsBlacklisted {
		t.Errorf("expected a freshly provisioned entry to default to not blacklisted")
	}
	if entry.IPGroup != "198.51" {
		t.Errorf("IPGroup = %q, want 198.51", entry.IPGroup)
	}
	if entry.IPVersion != 4 {
		t.Errorf("IPVersion = %d, want 4", entry.IPVersion)
	}
	if repo.creates != 1 {
		t.Errorf("expected exactly one auto-provisioned row, got %d", repo.creates)
	}
}

func TestBlocklistLookupReturnsExistingEntryWithoutReprovisioning(t *testing.T) {
	repo := newFakeBlacklistRepo()
	blocklist := NewBlocklist(repo)

	if _, err := blocklist.Lookup(context.Background(), "198.51.100.23"); err != nil {
		t.Fatalf("first Lookup() error = %v", err)
	}
	repo.byGroup["198.51"].IsBlacklisted = true
	repo.byGroup["198.51"].BlacklistReason = "spam complaints"

	entry, err := blocklist.Lookup(context.Background(), "198.51.100.99")
	if err != nil {
		t.Fatalf("second Lookup() error = %v", err)
	}
	if !entry.IsBlacklisted {
		t.Errorf("expected the existing blacklisted group entry to be reused")
	}
	if repo.creates != 1 {
		t.Errorf("expected no additional row created for an address in the same group, got %d creates", repo.creates)
	}
}

func TestBlocklistLookupIPv6Grouping(t *testing.T) {
	repo := newFakeBlacklistRepo()
	blocklist := NewBlocklist(repo)

	entry, err := blocklist.Lookup(context.Background(), "2001:db8:1234:5678::1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if entry.IPGroup != "2001:0db8:1234" {
		t.Errorf("IPGroup = %q, want 2001:0db8:1234", entry.IPGroup)
	}
	if entry.IPVersion != 6 {
		t.Errorf("IPVersion = %d, want 6", entry.IPVersion)
	}
}
