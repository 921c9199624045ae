package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"wagerchain/config"
	"wagerchain/core/audit"
	gatewayconfig "wagerchain/gateway/config"
	"wagerchain/gateway/middleware"
	"wagerchain/native/wager"
	"wagerchain/observability/logging"
)

const envVar = "WAGER_ENV"

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		return runServe(ctx, args, stderr)
	case "export":
		return runExport(args, stdout, stderr)
	case "token":
		return runToken(args, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: wagerd [serve|export|token] [flags]")
	fmt.Fprintln(w, "  serve   run the escrow ledger and its HTTP gateway (default)")
	fmt.Fprintln(w, "  export  write every escrow record to a parquet file")
	fmt.Fprintln(w, "  token   mint a gateway bearer token")
}

func runServe(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	env := cfg.Logging.Env
	if override := strings.TrimSpace(os.Getenv(envVar)); override != "" {
		env = override
	}
	logger, closer := logging.Setup("wagerd", env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer closer.Close()

	gwCfg, err := gatewayconfig.Load(cfg.GatewayConfig)
	if err != nil {
		logger.Error("load gateway config", "error", err)
		return 1
	}
	if err := serve(ctx, cfg, gwCfg, env, logger); err != nil {
		logger.Error("wagerd stopped", "error", err)
		return 1
	}
	return 0
}

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	out := fs.String("out", "wagers.parquet", "Destination parquet file")
	status := fs.String("status", "all", "Filter records: all, open or settled")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	filter, err := wager.ParseStatus(*status)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	ledger, err := openLedger(cfg, nil)
	if err != nil {
		fmt.Fprintf(stderr, "open ledger: %v\n", err)
		return 1
	}
	defer ledger.Close()

	records, err := ledger.engine.List(filter)
	if err != nil {
		fmt.Fprintf(stderr, "list records: %v\n", err)
		return 1
	}
	if err := audit.ExportParquet(*out, records); err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "exported %d records to %s\n", len(records), *out)
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	gatewayFile := fs.String("gateway-config", "", "Path to the gateway YAML configuration")
	subject := fs.String("subject", "operator", "Token subject")
	scopes := fs.String("scopes", middleware.ScopeWagerWrite, "Space or comma separated scopes")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	gwCfg, err := gatewayconfig.Load(*gatewayFile)
	if err != nil {
		fmt.Fprintf(stderr, "load gateway config: %v\n", err)
		return 1
	}
	scopeList := strings.FieldsFunc(*scopes, func(r rune) bool { return r == ',' || r == ' ' })
	token, err := middleware.IssueToken(gwCfg.Auth.Secret(), gwCfg.Auth.Issuer, gwCfg.Auth.Audience, *subject, scopeList, *ttl)
	if err != nil {
		fmt.Fprintf(stderr, "issue token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
