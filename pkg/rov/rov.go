// Package rov implements route origin validation (RFC 6811): classifying a
// BGP route announcement against a repository of validated ROA payloads.
package rov

import (
	"net/netip"

	"github.com/openrpki/rov-validator/pkg/errkind"
	"github.com/openrpki/rov-validator/pkg/vrp"
)

// Route is the announcement under validation.
type Route struct {
	OriginASN uint32       `json:"asn"`
	Prefix    netip.Prefix `json:"prefix"`
}

// State is the validation state of a route. It is a closed set: callers
// must handle all three values.
type State string

const (
	StateValid    State = "valid"
	StateInvalid  State = "invalid"
	StateNotFound State = "not-found"
)

// Reason refines an invalid state.
type Reason string

const (
	// ReasonOriginMismatch: every covering authorization names a different
	// origin AS.
	ReasonOriginMismatch Reason = "origin-mismatch"
	// ReasonMaxLengthExceeded: every covering authorization names the
	// route's origin AS, but the announced prefix is longer than any
	// maxLength permits.
	ReasonMaxLengthExceeded Reason = "max-length-exceeded"
	// ReasonBoth: the covering set is mixed, some entries failing on the
	// origin and the rest on length.
	ReasonBoth Reason = "both"
)

// Outcome is the result of validating one route.
type Outcome struct {
	Route  Route  `json:"route"`
	State  State  `json:"state"`
	Reason Reason `json:"reason,omitempty"`
	// VRPs is the complete evidence set that determined the outcome: the
	// matching authorizations for a valid route, every covering
	// authorization for an invalid one, empty for not-found. Always in
	// vrp.Compare order, so repeated calls serialize identically.
	VRPs []vrp.VRP `json:"vrps,omitempty"`
}

// ParseRoute builds a route announcement from a textual prefix, normalizing
// it to canonical masked form. IPv4-mapped IPv6 prefixes are rejected.
func ParseRoute(asn uint32, prefix string) (Route, error) {
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return Route{}, errkind.Wrap(errkind.InvalidPrefixEncoding, err, "parsing prefix")
	}
	if p.Addr().Is4In6() {
		return Route{}, errkind.Newf(errkind.InvalidPrefixEncoding, "IPv4-mapped prefix %q", prefix)
	}
	return Route{OriginASN: asn, Prefix: p.Masked()}, nil
}

// Validate classifies route against the repository per RFC 6811. It is a
// pure function: the repository is only read, and equal inputs produce
// equal outcomes.
//
// A route with no covering authorization is not-found. Otherwise it is
// valid when some covering VRP names its origin AS and permits its length,
// and invalid when none does.
func Validate(route Route, repo *vrp.Repository) Outcome {
	covering := repo.CoveringPrefixes(route.Prefix)
	if len(covering) == 0 {
		return Outcome{Route: route, State: StateNotFound}
	}

	var matching []vrp.VRP
	asnMatches := 0
	for _, v := range covering {
		if v.ASN != route.OriginASN {
			continue
		}
		asnMatches++
		if route.Prefix.Bits() <= int(v.MaxLength) {
			matching = append(matching, v)
		}
	}
	if len(matching) > 0 {
		return Outcome{Route: route, State: StateValid, VRPs: matching}
	}

	reason := ReasonBoth
	switch asnMatches {
	case 0:
		reason = ReasonOriginMismatch
	case len(covering):
		reason = ReasonMaxLengthExceeded
	}
	return Outcome{Route: route, State: StateInvalid, Reason: reason, VRPs: covering}
}
