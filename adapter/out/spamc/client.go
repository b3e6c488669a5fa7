// Package spamc shells out to the spamc binary to talk to spamd. No Go
// ecosystem client implements the spamd wire protocol, so this is the one
// component in the tree built on os/exec rather than a retrieved library
// (see DESIGN.md).
package spamc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/frappe/mail/pkg/apperr"
	"github.com/frappe/mail/pkg/resilience"
)

type Client struct {
	host    string
	port    int
	breaker *resilience.CircuitBreaker
}

// New wraps the spamc subprocess call in a circuit breaker so a dead or
// hung spamd fails fast instead of blocking every intake/spamd_handler
// call behind a subprocess timeout.
func New(host string, port int) *Client {
	cfg := resilience.DefaultCircuitBreakerConfig("spamc")
	return &Client{host: host, port: port, breaker: resilience.NewCircuitBreaker(cfg)}
}

// Scan pipes message to `spamc -d host -p port` and returns its stdout
// verbatim, mirroring scan_with_spamassassin's subprocess invocation.
func (c *Client) Scan(ctx context.Context, message []byte) ([]byte, error) {
	var stdout bytes.Buffer

	err := c.breaker.Execute(func() error {
		cmd := exec.CommandContext(ctx, "spamc", "-d", c.host, "-p", strconv.Itoa(c.port))
		cmd.Stdin = bytes.NewReader(message)

		var stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("spamc: %w: %s", err, stderr.String())
		}
		return nil
	})
	if err != nil {
		return nil, apperr.SpamdUnavailable(err)
	}
	return stdout.Bytes(), nil
}
