package mail

import (
	"fmt"

	"github.com/frappe/mail/core/domain"
)

// ComputeDNSRecords derives the SPF/DKIM/DMARC TXT and MX record values a
// domain owner needs to publish, mirroring fm_domain.py's
// get_dns_records. This is read-only derived data for display; the
// platform never talks to a DNS provider or manages records on one.
func ComputeDNSRecords(d domain.MailDomain, key *domain.DKIMKey, spfHost string, ttl int) domain.DNSRecords {
	records := domain.DNSRecords{
		SPF: domain.DNSRecord{
			Host:  d.Name,
			Type:  "TXT",
			Value: fmt.Sprintf("v=spf1 include:%s ~all", spfHost),
			TTL:   ttl,
		},
		DMARC: domain.DNSRecord{
			Host:  "_dmarc." + d.Name,
			Type:  "TXT",
			Value: dmarcPolicy(d.IsRootDomain),
			TTL:   ttl,
		},
		MX: domain.DNSRecord{
			Host:  d.Name,
			Type:  "MX",
			Value: spfHost,
			TTL:   ttl,
		},
	}
	if key != nil {
		records.DKIM = domain.DNSRecord{
			Host:  fmt.Sprintf("%s._domainkey.%s", key.Selector, d.Name),
			Type:  "TXT",
			Value: fmt.Sprintf("v=DKIM1; k=rsa; p=%s", key.PublicKey),
			TTL:   ttl,
		}
	}
	return records
}

// dmarcPolicy controls strictness based on whether this is the root
// domain, matching the stricter posture root domains are held to.
func dmarcPolicy(isRootDomain bool) string {
	if isRootDomain {
		return "v=DMARC1; p=reject; adkim=s; aspf=s"
	}
	return "v=DMARC1; p=quarantine; adkim=r; aspf=r"
}
