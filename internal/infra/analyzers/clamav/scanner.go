// Package clamav implements the antivirus scanner port against a clamd
// daemon reachable over a unix or tcp socket.
package clamav

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/memharbor/memharbor/internal/domain/forensics"
)

// Ensure Scanner implements forensics.AntivirusScanner at compile time.
var _ forensics.AntivirusScanner = (*Scanner)(nil)

// Scanner talks the clamd line protocol. Scans run daemon-side, so the
// directory must be readable by the clamd process.
type Scanner struct {
	network string
	address string
	timeout time.Duration
}

// NewScanner creates a scanner for the given clamd endpoint. network is
// "unix" or "tcp"; the default clamd socket is /var/run/clamav/clamd.ctl.
func NewScanner(network, address string) *Scanner {
	if network == "" {
		network = "unix"
	}
	if address == "" {
		address = "/var/run/clamav/clamd.ctl"
	}
	return &Scanner{
		network: network,
		address: address,
		timeout: 5 * time.Minute,
	}
}

// ScanDirectory runs one batch CONTSCAN over the directory and returns the
// verdict per flagged file path. Clean files are omitted from the mapping.
func (s *Scanner) ScanDirectory(ctx context.Context, path string) (map[string]string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, s.network, s.address)
	if err != nil {
		return nil, fmt.Errorf("connecting to clamd at %s: %w", s.address, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting clamd deadline: %w", err)
	}

	// The leading 'n' selects newline-terminated responses.
	if _, err := fmt.Fprintf(conn, "nCONTSCAN %s\n", path); err != nil {
		return nil, fmt.Errorf("sending scan command: %w", err)
	}

	verdicts := make(map[string]string)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// Response lines look like "/path/to/file: Signature FOUND",
		// "/path/to/file: OK" or "/path: message ERROR".
		filePath, status, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("unexpected clamd response line %q", line)
		}

		switch {
		case strings.HasSuffix(status, " FOUND"):
			verdicts[filePath] = strings.TrimSuffix(status, " FOUND")
		case status == "OK":
			// clean
		case strings.HasSuffix(status, " ERROR"):
			return nil, fmt.Errorf("clamd error for %s: %s", filePath, strings.TrimSuffix(status, " ERROR"))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading clamd response: %w", err)
	}

	return verdicts, nil
}
