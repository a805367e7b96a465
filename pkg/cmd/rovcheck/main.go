package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/openrpki/rov-validator/pkg/logme"
	"github.com/openrpki/rov-validator/pkg/prettyprint"
	"github.com/openrpki/rov-validator/pkg/relyingparty"
	"github.com/openrpki/rov-validator/pkg/rov"
	"github.com/openrpki/rov-validator/pkg/service"
)

// Exit codes mirror the validation states so scripts can branch on them.
const (
	exitValid    = 0
	exitInvalid  = 1
	exitNotFound = 2
	exitError    = 3
)

type Config struct {
	RelyingParty struct {
		BaseURL               string `yaml:"baseUrl"`
		TimeoutSeconds        int    `yaml:"timeoutSeconds"`
		SnapshotMaxAgeSeconds int    `yaml:"snapshotMaxAgeSeconds"`
	} `yaml:"relyingParty"`
	SnapshotFile string `yaml:"snapshotFile"`
	JSONOutput   bool   `yaml:"jsonOutput"`
}

func main() {
	var (
		roaFlag          = flag.String("roa", "", "Path to a ROA file to parse and verify")
		asnFlag          = flag.String("asn", "", "Origin AS number, with or without the AS prefix")
		prefixFlag       = flag.String("prefix", "", "Announced prefix to validate against the VRP set")
		statusFlag       = flag.Bool("status", false, "Query the relying party status endpoint")
		relyingPartyFlag = flag.String("relying-party", "", "Base URL of the relying party HTTP API")
		snapshotFlag     = flag.String("snapshot", "", "Path to an offline VRP snapshot (JSON, optionally gzipped)")
		configFlag       = flag.String("config", "", "Path to configuration file")
		jsonFlag         = flag.Bool("json", false, "Emit JSON on stdout")
	)

	flag.Parse()

	logme.Debugln("roa file: ", *roaFlag)
	logme.Debugln("asn: ", *asnFlag)
	logme.Debugln("prefix: ", *prefixFlag)
	logme.Debugln("relying party: ", *relyingPartyFlag)
	logme.Debugln("snapshot file: ", *snapshotFlag)
	logme.Debugln("config file: ", *configFlag)

	_ = godotenv.Load()

	var cfg Config
	if *configFlag != "" {
		var err error
		cfg, err = readConfigFile(*configFlag)
		if err != nil {
			logme.Errorln(fmt.Errorf("couldn't read configuration: %w", err))
			os.Exit(exitError)
		}
	}

	baseURL := *relyingPartyFlag
	if baseURL == "" {
		baseURL = cfg.RelyingParty.BaseURL
	}
	if baseURL == "" {
		baseURL = os.Getenv("ROV_RELYING_PARTY_URL")
	}
	snapshotFile := *snapshotFlag
	if snapshotFile == "" {
		snapshotFile = cfg.SnapshotFile
	}
	jsonOutput := *jsonFlag || cfg.JSONOutput

	validator := service.New(service.Params{
		BaseURL:        baseURL,
		HTTPTimeout:    time.Duration(cfg.RelyingParty.TimeoutSeconds) * time.Second,
		SnapshotFile:   snapshotFile,
		SnapshotMaxAge: time.Duration(cfg.RelyingParty.SnapshotMaxAgeSeconds) * time.Second,
	})

	ctx := context.Background()

	switch {
	case *roaFlag != "":
		res, err := validator.ParseROAFile(*roaFlag)
		if err != nil {
			fatal(fmt.Errorf("couldn't parse ROA file: %w", err))
		}
		if jsonOutput {
			prettyprint.Print(res)
		} else {
			printParseResult(res)
		}
		os.Exit(exitValid)

	case *statusFlag:
		st, err := validator.Status(ctx)
		if err != nil {
			fatal(fmt.Errorf("couldn't fetch relying party status: %w", err))
		}
		if jsonOutput {
			prettyprint.Print(st)
		} else {
			printStatus(st)
		}
		os.Exit(exitValid)

	case *asnFlag != "" && *prefixFlag != "":
		asn, err := parseASN(*asnFlag)
		if err != nil {
			fatal(err)
		}
		res, err := validator.Validity(ctx, asn, *prefixFlag)
		if err != nil {
			fatal(fmt.Errorf("couldn't validate announcement: %w", err))
		}
		if jsonOutput {
			prettyprint.Print(res)
		} else {
			printOutcome(res)
		}
		os.Exit(exitCodeFor(res.State))

	case *asnFlag != "":
		asn, err := parseASN(*asnFlag)
		if err != nil {
			fatal(err)
		}
		res, err := validator.ROAs(ctx, asn)
		if err != nil {
			fatal(fmt.Errorf("couldn't list authorizations: %w", err))
		}
		if jsonOutput {
			prettyprint.Print(res)
		} else {
			printROAs(res)
		}
		os.Exit(exitValid)

	default:
		fmt.Fprintln(os.Stderr, "specify one of: -roa <file>, -asn with -prefix, -asn, or -status")
		flag.Usage()
		os.Exit(exitError)
	}
}

func fatal(err error) {
	logme.Errorln(err)
	os.Exit(exitError)
}

func readConfigFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var config Config
	if err := yaml.Unmarshal(b, &config); err != nil {
		return Config{}, err
	}

	return config, nil
}

func parseASN(s string) (uint32, error) {
	trimmed := strings.TrimPrefix(strings.ToUpper(s), "AS")
	n, err := strconv.ParseUint(trimmed, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid AS number %q", s)
	}
	return uint32(n), nil
}

func exitCodeFor(state rov.State) int {
	switch state {
	case rov.StateInvalid:
		return exitInvalid
	case rov.StateNotFound:
		return exitNotFound
	}
	return exitValid
}

func printOutcome(res *service.ValidityResult) {
	var buf bytes.Buffer
	switch res.State {
	case rov.StateValid:
		buf.WriteString(color.GreenString("valid: "))
	case rov.StateInvalid:
		buf.WriteString(color.RedString("invalid: "))
	case rov.StateNotFound:
		buf.WriteString(color.YellowString("not-found: "))
	}
	buf.WriteString(fmt.Sprintf("AS%d %s", res.Route.OriginASN, res.Route.Prefix))
	if res.Reason != "" {
		buf.WriteString(fmt.Sprintf(" (%s)", res.Reason))
	}
	fmt.Fprintln(os.Stdout, buf.String())

	for _, v := range res.VRPs {
		fmt.Fprintf(os.Stdout, "%sAS%d %s maxLength %d\n",
			color.BlueString("  vrp: "), v.ASN, v.Prefix, v.MaxLength)
	}
}

func printParseResult(res *service.ParseResult) {
	fmt.Fprintf(os.Stdout, "%s%s\n", color.GreenString("roa: "), res.File)
	fmt.Fprintf(os.Stdout, "origin: AS%d\n", res.ASID)
	fmt.Fprintf(os.Stdout, "families: %s\n", strings.Join(res.AddressFamilies, ", "))
	fmt.Fprintf(os.Stdout, "resource check: %s\n", res.ResourceCheck)
	for _, p := range res.ResourceOffending {
		fmt.Fprintf(os.Stdout, "%s%s\n", color.RedString("  outside delegation: "), p)
	}
	if res.SigningTime != nil {
		fmt.Fprintf(os.Stdout, "signing time: %s\n", res.SigningTime.UTC().Format(time.RFC3339))
	}
	for _, e := range res.Entries {
		fmt.Fprintf(os.Stdout, "%s%s maxLength %d\n", color.BlueString("  prefix: "), e.Prefix, e.MaxLength)
	}
}

func printROAs(res *service.ROAsResult) {
	fmt.Fprintf(os.Stdout, "authorizations for AS%d: %d\n", res.ASN, len(res.VRPs))
	for _, v := range res.VRPs {
		fmt.Fprintf(os.Stdout, "%s%s maxLength %d\n", color.BlueString("  prefix: "), v.Prefix, v.MaxLength)
	}
}

func printStatus(st *relyingparty.Status) {
	fmt.Fprintf(os.Stdout, "version: %s\n", st.Version)
	fmt.Fprintf(os.Stdout, "serial: %d\n", st.Serial)
	if !st.Now.IsZero() {
		fmt.Fprintf(os.Stdout, "now: %s\n", st.Now.UTC().Format(time.RFC3339))
	}
	if st.LastUpdateDone != nil {
		fmt.Fprintf(os.Stdout, "last update done: %s\n", st.LastUpdateDone.UTC().Format(time.RFC3339))
	}
	if st.LastUpdateDuration != nil {
		fmt.Fprintf(os.Stdout, "last update duration: %.1fs\n", *st.LastUpdateDuration)
	}
}
