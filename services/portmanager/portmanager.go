// Package portmanager owns the pool of TCP ports WebDriver services bind
// to. It is not itself thread-safe: callers serialize access through
// State's joint port_manager+service_groups lock (see services/state),
// since the two containers are never acquired independently (spec §5).
package portmanager

import (
	"fmt"
	"strconv"
	"strings"

	"xenon/logger"
)

const minPort = 1024

// PortManager tracks every configured port as Available or Taken.
type PortManager struct {
	taken map[uint16]bool
	order []uint16 // insertion order, for deterministic-within-instance iteration
}

// New builds a PortManager from configured range specifiers ("N" or
// "A-B"). Malformed entries (non-numeric, A>B, port<=1024) are logged and
// skipped, never fatal; duplicate ports across ranges collapse silently.
func New(ranges []string) *PortManager {
	pm := &PortManager{taken: make(map[uint16]bool)}
	for _, spec := range ranges {
		ports, err := parseRange(spec)
		if err != nil {
			logger.Warn("skipping malformed port range", spec, err)
			continue
		}
		for _, p := range ports {
			if _, ok := pm.taken[p]; !ok {
				pm.taken[p] = false
				pm.order = append(pm.order, p)
			}
		}
	}
	return pm
}

func parseRange(spec string) ([]uint16, error) {
	spec = strings.TrimSpace(spec)
	if idx := strings.IndexByte(spec, '-'); idx >= 0 {
		startStr, endStr := spec[:idx], spec[idx+1:]
		start, err := strconv.Atoi(startStr)
		if err != nil {
			return nil, fmt.Errorf("invalid range start %q: %w", startStr, err)
		}
		end, err := strconv.Atoi(endStr)
		if err != nil {
			return nil, fmt.Errorf("invalid range end %q: %w", endStr, err)
		}
		if start > end {
			return nil, fmt.Errorf("range start %d greater than end %d", start, end)
		}
		if start <= minPort {
			return nil, fmt.Errorf("port %d must be greater than %d", start, minPort)
		}
		if end > 65535 {
			return nil, fmt.Errorf("port %d exceeds 65535", end)
		}
		out := make([]uint16, 0, end-start+1)
		for p := start; p <= end; p++ {
			out = append(out, uint16(p))
		}
		return out, nil
	}

	n, err := strconv.Atoi(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", spec, err)
	}
	if n <= minPort {
		return nil, fmt.Errorf("port %d must be greater than %d", n, minPort)
	}
	if n > 65535 {
		return nil, fmt.Errorf("port %d exceeds 65535", n)
	}
	return []uint16{uint16(n)}, nil
}

// Size reports the total number of ports in the pool, taken or not.
func (pm *PortManager) Size() int { return len(pm.order) }

// LockNext returns any currently Available port and marks it Taken. Tie
// break among candidates is unspecified; this implementation returns the
// first Available port in insertion order.
func (pm *PortManager) LockNext() (uint16, bool) {
	for _, p := range pm.order {
		if !pm.taken[p] {
			pm.taken[p] = true
			return p, true
		}
	}
	return 0, false
}

// Unlock marks a port Taken->Available if present; a no-op otherwise.
func (pm *PortManager) Unlock(port uint16) {
	if _, ok := pm.taken[port]; ok {
		pm.taken[port] = false
	}
}
