// Package relyingparty talks to a relying-party validator (Routinator or
// compatible) over its HTTP API and maintains the VRP snapshot that route
// origin validation runs against.
package relyingparty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/openrpki/rov-validator/pkg/errkind"
	"github.com/openrpki/rov-validator/pkg/logme"
	"github.com/openrpki/rov-validator/pkg/vrp"
)

// DefaultBaseURL is Routinator's default HTTP listener.
const DefaultBaseURL = "http://localhost:8323"

// DefaultTimeout bounds each HTTP request when no explicit timeout is
// configured.
const DefaultTimeout = 30 * time.Second

// minimumVersion is the first Routinator release whose API exposes
// /api/v1/status.
var minimumVersion = version.Must(version.NewVersion("0.9.0"))

// Client queries one relying-party instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for the given base URL, falling back to
// DefaultBaseURL when empty.
func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, DefaultTimeout)
}

// NewClientWithTimeout builds a client with an explicit per-request
// timeout. A non-positive timeout selects DefaultTimeout.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Status mirrors the relying party's /api/v1/status document.
type Status struct {
	Version            string     `json:"version"`
	Serial             uint32     `json:"serial"`
	Now                time.Time  `json:"now"`
	LastUpdateStart    time.Time  `json:"lastUpdateStart"`
	LastUpdateDone     *time.Time `json:"lastUpdateDone"`
	LastUpdateDuration *float64   `json:"lastUpdateDuration"`
}

// FetchStatus retrieves the status document and rejects relying parties
// older than the supported minimum.
func (c *Client) FetchStatus(ctx context.Context) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.RelyingPartyUnavailable, err, "building status request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.RelyingPartyUnavailable, err, "fetching status")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.Newf(errkind.RelyingPartyUnavailable, "status endpoint returned %s", resp.Status)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, errkind.Wrap(errkind.RelyingPartyUnavailable, err, "decoding status")
	}
	if err := checkVersion(st.Version); err != nil {
		return nil, err
	}
	return &st, nil
}

func checkVersion(v string) error {
	raw := strings.TrimPrefix(v, "routinator/")
	parsed, err := version.NewVersion(raw)
	if err != nil {
		// Unrecognized version strings are tolerated: the endpoint answered.
		logme.DebugFln("relyingparty: unparseable version %q", v)
		return nil
	}
	if parsed.LessThan(minimumVersion) {
		return errkind.Newf(errkind.RelyingPartyUnavailable,
			"relying party version %s below supported minimum %s", raw, minimumVersion)
	}
	return nil
}

// Snapshot is one coherent view of the relying party's validated payloads.
// It is never mutated after construction.
type Snapshot struct {
	VRPs      *vrp.Repository
	Generated time.Time
	FetchedAt time.Time
}

type jsonROA struct {
	ASN    string `json:"asn"`
	Prefix string `json:"prefix"`
	// MaxLength is a pointer so an omitted field can default to the prefix
	// length, matching the attestation encoding.
	MaxLength *int   `json:"maxLength"`
	TA        string `json:"ta"`
}

type jsonExport struct {
	Metadata struct {
		Generated     int64     `json:"generated"`
		GeneratedTime time.Time `json:"generatedTime"`
	} `json:"metadata"`
	ROAs []jsonROA `json:"roas"`
}

// FetchVRPSnapshot retrieves the full /json export and indexes it. Any
// transport, decode, or content problem means no coherent snapshot could
// be obtained and is reported as the relying party being unavailable.
func (c *Client) FetchVRPSnapshot(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/json", nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.RelyingPartyUnavailable, err, "building export request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.RelyingPartyUnavailable, err, "fetching VRP export")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.Newf(errkind.RelyingPartyUnavailable, "export endpoint returned %s", resp.Status)
	}
	var exp jsonExport
	if err := json.NewDecoder(resp.Body).Decode(&exp); err != nil {
		return nil, errkind.Wrap(errkind.RelyingPartyUnavailable, err, "decoding VRP export")
	}
	snap, err := snapshotFromExport(&exp, time.Now())
	if err != nil {
		return nil, errkind.Wrap(errkind.RelyingPartyUnavailable, err, "invalid VRP export")
	}
	logme.DebugFln("relyingparty: fetched %d VRPs from %s", snap.VRPs.Size(), c.baseURL)
	return snap, nil
}

func snapshotFromExport(exp *jsonExport, fetchedAt time.Time) (*Snapshot, error) {
	vrps := make([]vrp.VRP, 0, len(exp.ROAs))
	for _, r := range exp.ROAs {
		v, err := r.toVRP()
		if err != nil {
			return nil, err
		}
		vrps = append(vrps, v)
	}
	generated := exp.Metadata.GeneratedTime
	if generated.IsZero() && exp.Metadata.Generated != 0 {
		generated = time.Unix(exp.Metadata.Generated, 0).UTC()
	}
	return &Snapshot{
		VRPs:      vrp.Build(vrps),
		Generated: generated,
		FetchedAt: fetchedAt,
	}, nil
}

func (r jsonROA) toVRP() (vrp.VRP, error) {
	asn, err := strconv.ParseUint(strings.TrimPrefix(r.ASN, "AS"), 10, 32)
	if err != nil {
		return vrp.VRP{}, errkind.Wrap(errkind.MalformedEncoding, err, "parsing origin AS "+r.ASN)
	}
	p, err := netip.ParsePrefix(r.Prefix)
	if err != nil {
		return vrp.VRP{}, errkind.Wrap(errkind.InvalidPrefixEncoding, err, "parsing prefix "+r.Prefix)
	}
	// JSON exports are normalized leniently, unlike the bit-level decoder.
	p = p.Masked()
	maxLength := p.Bits()
	if r.MaxLength != nil {
		maxLength = *r.MaxLength
	}
	if maxLength < 0 || maxLength > 255 {
		return vrp.VRP{}, errkind.Newf(errkind.InvalidPrefixEncoding, "maxLength %d out of range", maxLength)
	}
	return vrp.New(uint32(asn), p, uint8(maxLength))
}
