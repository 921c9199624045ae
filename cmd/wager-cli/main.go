package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"wagerchain/cmd/internal/credentials"
)

const (
	gatewayURLEnv = "WAGER_GATEWAY_URL"
	tokenEnv      = "WAGER_TOKEN"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	endpoint := defaultEndpoint()
	args, endpoint, err := applyGlobalFlags(args, endpoint)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	client := newGatewayClient(endpoint, credentials.NewSource(tokenEnv))

	switch args[0] {
	case "generate-key":
		return runGenerateKey(stdout, stderr)
	case "game":
		return runGameCommand(client, args[1:], stdout, stderr)
	case "balance":
		return runBalance(client, args[1:], stdout, stderr)
	case "deposit":
		return runDeposit(client, args[1:], stdout, stderr)
	case "pause":
		return runPause(client, args[1:], stdout, stderr, true)
	case "resume":
		return runPause(client, args[1:], stdout, stderr, false)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultEndpoint() string {
	if value := strings.TrimSpace(os.Getenv(gatewayURLEnv)); value != "" {
		return value
	}
	return "http://127.0.0.1:8080"
}

// applyGlobalFlags strips --gateway from the front of args.
func applyGlobalFlags(args []string, endpoint string) ([]string, string, error) {
	for len(args) > 0 {
		arg := args[0]
		switch {
		case arg == "--gateway" || arg == "-gateway":
			if len(args) < 2 {
				return nil, "", fmt.Errorf("%s requires a value", arg)
			}
			endpoint, args = args[1], args[2:]
		case strings.HasPrefix(arg, "--gateway="):
			endpoint, args = strings.TrimPrefix(arg, "--gateway="), args[1:]
		default:
			return args, strings.TrimRight(endpoint, "/"), nil
		}
	}
	return args, strings.TrimRight(endpoint, "/"), nil
}

func usage() string {
	return strings.Join([]string{
		"Usage: wager-cli [--gateway URL] <command> [args]",
		"",
		"Commands:",
		"  generate-key                     print a fresh player key and address",
		"  game open|join|release|refund    mutate an escrow (requires " + tokenEnv + ")",
		"  game get|total|claimed|receipt|history|list",
		"  balance <address>                show a player balance",
		"  deposit <address> <amount>       credit a player balance (admin)",
		"  pause | resume                   toggle the wager module (admin)",
	}, "\n")
}
