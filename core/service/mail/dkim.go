package mail

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/frappe/mail/core/port/out"
	"github.com/frappe/mail/pkg/apperr"
)

// canonicalHeaderSet is the fixed header list DKIM signs over, per
// canonicalization.
var canonicalHeaderSet = []string{"To", "Cc", "From", "Date", "Subject", "Reply-To", "Message-ID", "In-Reply-To"}

// Signer produces DKIM-Signature headers, grounded on
// mail/mail/doctype/outgoing_mail/sendmail.py's dkim.sign(...) call, using
// the emersion/go-msgauth/dkim implementation instead of hand-rolled
// canonicalisation.
type Signer struct {
	keys out.DKIMKeyRepository
}

func NewSigner(keys out.DKIMKeyRepository) *Signer {
	return &Signer{keys: keys}
}

// Sign loads domainName's active DKIM key and returns the message with a
// DKIM-Signature header prepended, folded back onto a single physical
// line by collapseSignatureLine after signing. Fails with DKIMKeyMissing
// when no enabled key exists, unless permissive is true (used by the
// rejection-bounce path, which signs with the postmaster domain's key
// when present but must not hard-fail the bounce itself).
func (s *Signer) Sign(ctx context.Context, domainName string, message []byte, permissive bool) ([]byte, error) {
	key, err := s.keys.ActiveKey(ctx, domainName)
	if err != nil {
		return nil, err
	}
	if key == nil {
		if permissive {
			return message, nil
		}
		return nil, apperr.DKIMKeyMissing(domainName)
	}

	signer, err := parsePrivateKey(key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse dkim private key for %s: %w", domainName, err)
	}

	opts := &dkim.SignOptions{
		Domain:                 domainName,
		Selector:               key.Selector,
		Signer:                 signer,
		Hash:                   crypto.SHA256,
		HeaderKeys:             canonicalHeaderSet,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}

	var buf bytes.Buffer
	if err := dkim.Sign(&buf, bytes.NewReader(message), opts); err != nil {
		return nil, fmt.Errorf("dkim sign: %w", err)
	}
	return collapseSignatureLine(buf.Bytes()), nil
}

// collapseSignatureLine folds a soft-wrapped DKIM-Signature header back
// onto one physical line.
func collapseSignatureLine(message []byte) []byte {
	headerEnd := bytes.Index(message, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		headerEnd = bytes.Index(message, []byte("\n\n"))
	}
	if headerEnd < 0 {
		return message
	}
	headers := string(message[:headerEnd])
	rest := message[headerEnd:]

	lines := strings.Split(headers, "\n")
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if len(out) > 0 && (strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t")) && strings.HasPrefix(out[len(out)-1], "DKIM-Signature:") {
			out[len(out)-1] += " " + strings.TrimSpace(trimmed)
			continue
		}
		out = append(out, trimmed)
	}
	return append([]byte(strings.Join(out, "\r\n")), rest...)
}

func parsePrivateKey(pemData string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key is not a signer")
	}
	return signer, nil
}

// GenerateKeyPair creates a new RSA key pair of the given bit size and
// returns it PEM-encoded.
func GenerateKeyPair(bits int) (privatePEM, publicPEM string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", err
	}
	privBytes := x509.MarshalPKCS1PrivateKey(key)
	privBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes}

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	pubBlock := &pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}

	return string(pem.EncodeToMemory(privBlock)), string(pem.EncodeToMemory(pubBlock)), nil
}
