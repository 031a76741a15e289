// Package filter applies a site's hidden-IP list to the normalized event
// stream before it reaches aggregation or the rule engine. Filtering is a
// pipeline stage, not a read-time concern, so raw uploaded data is always
// preserved and a hidden-IP change can be re-materialized by re-ingesting
// (spec.md §4.3).
package filter

import "github.com/allensuvorov/logamizer/internal/model"

// HiddenIPs is a pure predicate over a site's hidden-IP set.
type HiddenIPs struct {
	set map[string]struct{}
}

// New builds a HiddenIPs filter from a site's ordered hidden-IP list.
func New(ips []string) HiddenIPs {
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	return HiddenIPs{set: set}
}

// Allow reports whether ev should continue downstream (true = not hidden).
func (h HiddenIPs) Allow(ev model.NormalizedEvent) bool {
	_, hidden := h.set[ev.IP]
	return !hidden
}

// Apply filters a batch of events in place, preserving order.
func (h HiddenIPs) Apply(events []model.NormalizedEvent) []model.NormalizedEvent {
	if len(h.set) == 0 {
		return events
	}
	out := events[:0]
	for _, ev := range events {
		if h.Allow(ev) {
			out = append(out, ev)
		}
	}
	return out
}
