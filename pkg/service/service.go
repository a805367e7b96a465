// Package service wires the ROA decoder, the validation algorithm and the
// relying-party client into the operations exposed by the CLI and the MCP
// server.
package service

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/openrpki/rov-validator/pkg/certres"
	"github.com/openrpki/rov-validator/pkg/errkind"
	"github.com/openrpki/rov-validator/pkg/logme"
	"github.com/openrpki/rov-validator/pkg/relyingparty"
	"github.com/openrpki/rov-validator/pkg/roa"
	"github.com/openrpki/rov-validator/pkg/rov"
	"github.com/openrpki/rov-validator/pkg/vrp"
)

// Params configures a Validator.
type Params struct {
	// BaseURL of the relying party. Ignored when SnapshotFile is set.
	BaseURL string
	// HTTPTimeout bounds relying-party requests; zero selects the default.
	HTTPTimeout time.Duration
	// SnapshotFile switches to offline mode, serving VRPs from a
	// Routinator-format JSON export on disk instead of a live relying
	// party.
	SnapshotFile string
	// SnapshotMaxAge bounds snapshot staleness; zero selects the default.
	SnapshotMaxAge time.Duration
}

// Validator executes validation operations against one VRP source.
type Validator struct {
	holder *relyingparty.SnapshotHolder
	// client is nil in offline mode.
	client *relyingparty.Client
	now    func() time.Time
}

// New builds a Validator per params.
func New(params Params) *Validator {
	v := &Validator{now: time.Now}
	if params.SnapshotFile != "" {
		logme.DebugFln("service: offline mode, snapshot file %s", params.SnapshotFile)
		v.holder = relyingparty.NewSnapshotHolder(
			relyingparty.FileSource{Path: params.SnapshotFile}, params.SnapshotMaxAge)
		return v
	}
	client := relyingparty.NewClientWithTimeout(params.BaseURL, params.HTTPTimeout)
	v.client = client
	v.holder = relyingparty.NewSnapshotHolder(client, params.SnapshotMaxAge)
	return v
}

// ParseResult summarizes one decoded ROA file.
type ParseResult struct {
	File                      string            `json:"file"`
	ASID                      uint32            `json:"asid"`
	AddressFamilies           []string          `json:"addressFamilies"`
	Entries                   []vrp.VRP         `json:"entries"`
	SigningCertificatePresent bool              `json:"signingCertificatePresent"`
	SigningTime               *time.Time        `json:"signingTime,omitempty"`
	ResourceCheck             roa.ResourceCheck `json:"resourceCheck"`
	ResourceOffending         []netip.Prefix    `json:"resourceOffending,omitempty"`
}

// ParseROAFile reads, unwraps and verifies a ROA signed object from disk.
func (v *Validator) ParseROAFile(path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.Wrap(errkind.FileNotFound, err, "reading ROA file")
		}
		return nil, fmt.Errorf("reading ROA file: %w", err)
	}
	logme.DebugFln("service: decoding %s (%d bytes)", path, len(data))

	decoded, err := roa.Decoder{Now: v.now}.Decode(data)
	if err != nil {
		return nil, err
	}

	res := &ParseResult{
		File:                      path,
		ASID:                      decoded.ASID,
		Entries:                   decoded.VRPs(),
		SigningCertificatePresent: decoded.Certificate != nil,
		ResourceCheck:             decoded.ResourceCheck,
		ResourceOffending:         decoded.ResourceOffending,
	}
	for _, fam := range decoded.Families {
		name := "ipv4"
		if fam.AFI == certres.AFIIPv6 {
			name = "ipv6"
		}
		res.AddressFamilies = append(res.AddressFamilies, name)
	}
	if !decoded.SigningTime.IsZero() {
		st := decoded.SigningTime
		res.SigningTime = &st
	}
	return res, nil
}

// ValidityResult is a validation outcome plus the age of the snapshot it
// was computed from.
type ValidityResult struct {
	rov.Outcome
	SnapshotGenerated *time.Time `json:"snapshotGenerated,omitempty"`
}

// Validity classifies the announcement (asn, prefix) against the current
// VRP snapshot. A snapshot that cannot be obtained is an error, never a
// not-found outcome.
func (v *Validator) Validity(ctx context.Context, asn uint32, prefix string) (*ValidityResult, error) {
	route, err := rov.ParseRoute(asn, prefix)
	if err != nil {
		return nil, err
	}
	snap, err := v.holder.Current(ctx)
	if err != nil {
		return nil, err
	}
	res := &ValidityResult{Outcome: rov.Validate(route, snap.VRPs)}
	if !snap.Generated.IsZero() {
		g := snap.Generated
		res.SnapshotGenerated = &g
	}
	return res, nil
}

// ROAsResult lists the authorizations naming one origin AS.
type ROAsResult struct {
	ASN               uint32     `json:"asn"`
	VRPs              []vrp.VRP  `json:"vrps"`
	SnapshotGenerated *time.Time `json:"snapshotGenerated,omitempty"`
}

// ROAs returns every VRP in the current snapshot naming asn as origin.
func (v *Validator) ROAs(ctx context.Context, asn uint32) (*ROAsResult, error) {
	snap, err := v.holder.Current(ctx)
	if err != nil {
		return nil, err
	}
	res := &ROAsResult{ASN: asn, VRPs: snap.VRPs.ByASN(asn)}
	if !snap.Generated.IsZero() {
		g := snap.Generated
		res.SnapshotGenerated = &g
	}
	return res, nil
}

// Status reports the relying party's own status document. Offline mode has
// no relying party to ask.
func (v *Validator) Status(ctx context.Context) (*relyingparty.Status, error) {
	if v.client == nil {
		return nil, errkind.New(errkind.RelyingPartyUnavailable, "offline mode: no relying party configured")
	}
	return v.client.FetchStatus(ctx)
}
