package domain

import "testing"

func TestMailboxDomainPart(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"alice@example.test", "example.test"},
		{"no-at-sign", ""},
		{"a@b@c.test", "c.test"},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			m := Mailbox{Email: tt.email}
			if got := m.DomainPart(); got != tt.want {
				t.Errorf("DomainPart() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMailboxValid(t *testing.T) {
	tests := []struct {
		name       string
		email      string
		domainName string
		want       bool
	}{
		{"matching domain", "alice@example.test", "example.test", true},
		{"case-insensitive match", "alice@Example.Test", "example.test", true},
		{"mismatched domain", "alice@other.test", "example.test", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Mailbox{Email: tt.email, DomainName: tt.domainName}
			if got := m.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMailAliasContainsOwnAddress(t *testing.T) {
	tests := []struct {
		name  string
		alias MailAlias
		want  bool
	}{
		{"self-referencing alias", MailAlias{Alias: "team@example.test", Mailboxes: []string{"a@example.test", "team@example.test"}}, true},
		{"case-insensitive self reference", MailAlias{Alias: "team@example.test", Mailboxes: []string{"Team@Example.Test"}}, true},
		{"clean fan-out", MailAlias{Alias: "team@example.test", Mailboxes: []string{"a@example.test", "b@example.test"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.alias.ContainsOwnAddress(); got != tt.want {
				t.Errorf("ContainsOwnAddress() = %v, want %v", got, tt.want)
			}
		})
	}
}
