// Package spam implements the spam-scanning and IP-blocklist checks
// applied to both outgoing and incoming mail.
package spam

import (
	"bytes"
	"context"
	"io"
	"regexp"
	"strconv"
	"time"

	emmail "github.com/emersion/go-message/mail"

	"github.com/frappe/mail/core/domain"
	"github.com/frappe/mail/core/port/out"
	"github.com/frappe/mail/pkg/apperr"
)

// Gate implements in.SpamGate, grounded on spamd.py's three scanning
// modes and its hybrid re-scan escalation.
type Gate struct {
	scanner out.SpamScanner
	logs    out.SpamCheckLogRepository
	now     func() time.Time
}

func NewGate(scanner out.SpamScanner, logs out.SpamCheckLogRepository) *Gate {
	return &Gate{scanner: scanner, logs: logs, now: time.Now}
}

var spamScoreRe = regexp.MustCompile(`X-Spam-Status:.*score=([\d.]+)`)
var spamHeaderRe = regexp.MustCompile(`(?m)^(X-Spam-[^:]+):\s*(.*)$`)

func extractScore(response []byte) float64 {
	m := spamScoreRe.FindSubmatch(response)
	if m == nil {
		return 0
	}
	score, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0
	}
	return score
}

func extractHeaders(response []byte) []string {
	var headers []string
	for _, m := range spamHeaderRe.FindAllSubmatch(response, -1) {
		headers = append(headers, string(m[1])+": "+string(m[2]))
	}
	return headers
}

// Score runs message through the Hybrid scanning mode and returns the
// resulting spamd score.
func (g *Gate) Score(ctx context.Context, message []byte) (float64, error) {
	log, err := g.Scan(ctx, message, domain.ScanningModeHybrid, 5.0)
	if err != nil {
		return 0, err
	}
	return log.SpamScore, nil
}

// IsSpam scans message and reports whether it scored above zero; callers
// compare the returned score against their direction-specific max
// themselves (Inbound and Outbound use different configured ceilings).
func (g *Gate) IsSpam(ctx context.Context, message []byte, emailType domain.EmailType) (bool, float64, error) {
	score, err := g.Score(ctx, message)
	if err != nil {
		return false, 0, err
	}
	return score > 0, score, nil
}

// Scan dispatches to the configured scanning mode, mirroring
// scan_email_for_spam's three branches, and persists an audit row.
func (g *Gate) Scan(ctx context.Context, message []byte, mode domain.ScanningMode, hybridThreshold float64) (*domain.SpamCheckLog, error) {
	if !mode.Valid() {
		return nil, apperr.InvalidScanningMode(string(mode))
	}

	var response []byte
	var err error

	switch mode {
	case domain.ScanningModeExcludeAttachments:
		response, err = g.scanner.Scan(ctx, stripAttachments(message))
	case domain.ScanningModeIncludeAttachments:
		response, err = g.scanner.Scan(ctx, message)
	case domain.ScanningModeHybrid:
		response, err = g.scanner.Scan(ctx, stripAttachments(message))
		if err == nil && extractScore(response) >= hybridThreshold {
			response, err = g.scanner.Scan(ctx, message)
		}
	}
	if err != nil {
		return nil, err
	}

	log := &domain.SpamCheckLog{
		ScanningMode:            mode,
		HybridScanningThreshold: hybridThreshold,
		SpamScore:               extractScore(response),
		SpamHeaders:             extractHeaders(response),
		CreatedAt:               g.now(),
	}
	if g.logs != nil {
		if err := g.logs.Create(ctx, log); err != nil {
			return nil, err
		}
	}
	return log, nil
}

// stripAttachments rebuilds message keeping only its headers and
// non-attachment parts, mirroring remove_attachments_from_email's
// header-preserving rewrite. Falls back to the original bytes if the
// message doesn't parse as MIME.
func stripAttachments(message []byte) []byte {
	mr, err := emmail.CreateReader(bytes.NewReader(message))
	if err != nil {
		return message
	}
	defer mr.Close()

	var buf bytes.Buffer
	mw, err := emmail.CreateWriter(&buf, mr.Header)
	if err != nil {
		return message
	}

	iw, err := mw.CreateInline()
	if err != nil {
		mw.Close()
		return message
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		ih, ok := part.Header.(*emmail.InlineHeader)
		if !ok {
			continue
		}
		w, err := iw.CreatePart(*ih)
		if err != nil {
			continue
		}
		io.Copy(w, part.Body)
		w.Close()
	}
	iw.Close()
	mw.Close()
	return buf.Bytes()
}
