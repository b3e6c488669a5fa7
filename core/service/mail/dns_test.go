package mail

import (
	"strings"
	"testing"

	"github.com/frappe/mail/core/domain"
)

func TestComputeDNSRecordsRootDomainIsStrict(t *testing.T) {
	d := domain.MailDomain{Name: "example.test", IsRootDomain: true}
	key := &domain.DKIMKey{Selector: "fm1", PublicKey: "ABC123"}

	records := ComputeDNSRecords(d, key, "mx.provider.test", 3600)

	if records.SPF.Host != "example.test" || !strings.Contains(records.SPF.Value, "mx.provider.test") {
		t.Errorf("SPF record = %+v", records.SPF)
	}
	if records.DMARC.Host != "_dmarc.example.test" {
		t.Errorf("DMARC host = %q, want _dmarc.example.test", records.DMARC.Host)
	}
	if !strings.Contains(records.DMARC.Value, "p=reject") {
		t.Errorf("root domain DMARC policy = %q, want p=reject", records.DMARC.Value)
	}
	if records.DKIM.Host != "fm1._domainkey.example.test" {
		t.Errorf("DKIM host = %q", records.DKIM.Host)
	}
	if !strings.Contains(records.DKIM.Value, "ABC123") {
		t.Errorf("DKIM value missing public key: %q", records.DKIM.Value)
	}
	if records.MX.Type != "MX" {
		t.Errorf("MX type = %q, want MX", records.MX.Type)
	}
}

func TestComputeDNSRecordsSubdomainIsLessStrict(t *testing.T) {
	d := domain.MailDomain{Name: "sub.example.test", IsRootDomain: false}
	records := ComputeDNSRecords(d, nil, "mx.provider.test", 300)

	if !strings.Contains(records.DMARC.Value, "p=quarantine") {
		t.Errorf("subdomain DMARC policy = %q, want p=quarantine", records.DMARC.Value)
	}
	if records.DKIM.Value != "" {
		t.Errorf("expected empty DKIM record when no key provided, got %q", records.DKIM.Value)
	}
}
