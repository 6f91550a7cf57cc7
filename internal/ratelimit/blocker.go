package ratelimit

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	violationWindow    = time.Hour
	violationThreshold = 10
	blockDuration      = 24 * time.Hour
)

// Blocker tracks rate-limit violations per IP and temporarily blocks repeat
// offenders when enabled.
type Blocker struct {
	store   CounterStore
	logger  zerolog.Logger
	enabled bool
}

// NewBlocker creates an IP blocker. When enabled is false, violations are
// still accepted but never result in a block.
func NewBlocker(store CounterStore, logger zerolog.Logger, enabled bool) *Blocker {
	return &Blocker{store: store, logger: logger, enabled: enabled}
}

func blockedKey(ip string) string {
	return fmt.Sprintf("blocked:ip:%s", ip)
}

func violationsKey(ip string) string {
	return fmt.Sprintf("violations:ip:%s", ip)
}

// IsBlocked checks whether an IP is currently blocked. Store failures count
// as not blocked, consistent with the limiter's fail-open policy.
func (b *Blocker) IsBlocked(ctx context.Context, ip string) bool {
	blocked, err := b.store.HasFlag(ctx, blockedKey(ip))
	if err != nil {
		return false
	}
	return blocked
}

// RecordViolation notes a rate-limit hit for ip and blocks it once the
// violation count within the window crosses the threshold.
func (b *Blocker) RecordViolation(ctx context.Context, ip string) {
	if !b.enabled {
		return
	}

	count, err := b.store.IncrWindow(ctx, violationsKey(ip), violationWindow)
	if err != nil {
		return
	}

	if count >= violationThreshold {
		if err := b.store.SetFlag(ctx, blockedKey(ip), blockDuration); err != nil {
			return
		}
		b.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked for repeated violations")
	}
}

// Whitelist holds IPs and CIDR ranges exempt from rate limiting.
type Whitelist struct {
	nets []*net.IPNet
	ips  map[string]bool
}

// NewWhitelist parses a list of IPs and CIDRs, logging and skipping invalid
// entries.
func NewWhitelist(entries []string, logger zerolog.Logger) *Whitelist {
	w := &Whitelist{ips: make(map[string]bool)}

	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			w.nets = append(w.nets, ipNet)
		} else {
			w.ips[entry] = true
		}
	}

	if len(entries) > 0 {
		logger.Info().
			Int("ips", len(w.ips)).
			Int("cidrs", len(w.nets)).
			Msg("rate limit whitelist configured")
	}

	return w
}

// Contains reports whether ip is whitelisted.
func (w *Whitelist) Contains(ipStr string) bool {
	if w.ips[ipStr] {
		return true
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range w.nets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}
