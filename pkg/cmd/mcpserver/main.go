package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/openrpki/rov-validator/pkg/logme"
	"github.com/openrpki/rov-validator/pkg/relyingparty"
	"github.com/openrpki/rov-validator/pkg/service"
)

// version is reported to MCP clients during the initialize handshake.
const version = "0.1.0"

const defaultLogFile = "logs/mcpserver.log"

type ParseROAInput struct {
	Path string `json:"path" jsonschema:"required,description=Path to a DER-encoded ROA signed object (.roa) on the local filesystem."`
}

type ParseROAOutput struct {
	Result *service.ParseResult `json:"result" jsonschema:"description=Decoded ROA content: origin AS, address families, authorized prefixes with maxLength, and the signature verification summary."`
}

type ValidityInput struct {
	ASN    uint32 `json:"asn" jsonschema:"required,description=Origin AS number of the announcement, without the AS prefix."`
	Prefix string `json:"prefix" jsonschema:"required,description=Announced prefix in CIDR notation, IPv4 or IPv6."`
}

type ValidityOutput struct {
	Result *service.ValidityResult `json:"result" jsonschema:"description=Route origin validation outcome (Valid, Invalid or NotFound) together with the VRPs that determined it."`
}

type ROAsInput struct {
	ASN uint32 `json:"asn" jsonschema:"required,description=Origin AS number to list authorizations for, without the AS prefix."`
}

type ROAsOutput struct {
	Result *service.ROAsResult `json:"result" jsonschema:"description=Validated ROA payloads naming the AS as origin, sorted, with snapshot freshness metadata."`
}

type StatusInput struct{}

type StatusOutput struct {
	Status *relyingparty.Status `json:"status" jsonschema:"description=Relying party status document: version, current serial and last update timings."`
}

type toolHandlers struct {
	validator *service.Validator
}

func (h *toolHandlers) ParseROAFile(ctx context.Context, req *mcp.CallToolRequest, input ParseROAInput) (*mcp.CallToolResult, ParseROAOutput, error) {
	res, err := h.validator.ParseROAFile(input.Path)
	if err != nil {
		return nil, ParseROAOutput{}, err
	}
	return nil, ParseROAOutput{Result: res}, nil
}

func (h *toolHandlers) Validity(ctx context.Context, req *mcp.CallToolRequest, input ValidityInput) (*mcp.CallToolResult, ValidityOutput, error) {
	res, err := h.validator.Validity(ctx, input.ASN, input.Prefix)
	if err != nil {
		return nil, ValidityOutput{}, err
	}
	return nil, ValidityOutput{Result: res}, nil
}

func (h *toolHandlers) ROAs(ctx context.Context, req *mcp.CallToolRequest, input ROAsInput) (*mcp.CallToolResult, ROAsOutput, error) {
	res, err := h.validator.ROAs(ctx, input.ASN)
	if err != nil {
		return nil, ROAsOutput{}, err
	}
	return nil, ROAsOutput{Result: res}, nil
}

func (h *toolHandlers) Status(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	st, err := h.validator.Status(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, StatusOutput{Status: st}, nil
}

func addTools(server *mcp.Server, h *toolHandlers) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "parse_roa_file",
		Description: "Parses and cryptographically verifies a Route Origin Authorization (ROA) file. Returns the origin AS, the authorized prefixes with their maxLength, and a signature verification summary.",
	}, h.ParseROAFile)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "validity",
		Description: "Validates a BGP announcement (origin AS and prefix) against the current set of validated ROA payloads. Returns Valid, Invalid or NotFound, with the VRPs that determined the outcome.",
	}, h.Validity)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "roas",
		Description: "Lists the validated ROA payloads that name the given AS as origin, together with snapshot freshness metadata.",
	}, h.ROAs)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "status",
		Description: "Queries the relying party status endpoint. Returns its version, current serial and last update timings.",
	}, h.Status)
}

// openLogFile opens the server log for appending, creating the directory if
// needed. Stdout carries the MCP transport, so logs can never go there.
func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func run() error {
	var (
		relyingPartyFlag = flag.String("relying-party", "", "Base URL of the relying party HTTP API")
		logFileFlag      = flag.String("log-file", defaultLogFile, "Path of the server log file")
	)

	flag.Parse()

	logFile, err := openLogFile(*logFileFlag)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	logme.SetOutput(logFile)

	_ = godotenv.Load()

	baseURL := *relyingPartyFlag
	if baseURL == "" {
		baseURL = os.Getenv("ROV_RELYING_PARTY_URL")
	}
	if baseURL == "" {
		baseURL = relyingparty.DefaultBaseURL
	}
	logme.Debugln("relying party: ", baseURL)
	logme.Debugln("log file: ", *logFileFlag)

	handlers := &toolHandlers{validator: service.New(service.Params{BaseURL: baseURL})}

	server := mcp.NewServer(&mcp.Implementation{Name: "rov-validator", Version: version}, nil)
	addTools(server, handlers)
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("failed to run: %v", err)
	}
}
