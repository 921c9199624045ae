package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"wagerchain/crypto"
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func gameUsage() string {
	return "Usage: wager-cli game <open|join|release|refund|get|total|claimed|receipt|history|list> [flags]"
}

func runGameCommand(client *gatewayClient, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, gameUsage())
		return 1
	}
	switch args[0] {
	case "open":
		return runGameOpen(client, args[1:], stdout, stderr)
	case "join":
		return runGameJoin(client, args[1:], stdout, stderr)
	case "release":
		return runGameRelease(client, args[1:], stdout, stderr)
	case "refund":
		return runGameAction(client, "refund", args[1:], stdout, stderr)
	case "get":
		return runGameQuery(client, "", args[1:], stdout, stderr)
	case "total", "claimed", "receipt", "history":
		return runGameQuery(client, "/"+args[0], args[1:], stdout, stderr)
	case "list":
		return runGameList(client, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown game subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, gameUsage())
		return 1
	}
}

func runGameOpen(client *gatewayClient, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("game open", stderr)
	id := fs.String("id", "", "game id")
	player := fs.String("player", "", "first player bech32 address")
	amount := fs.String("amount", "", "stake in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	gameID, err := parseGameID(*id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := requireAddress("player", *player); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := requireAmount(*amount); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	body := map[string]interface{}{"gameId": gameID, "player": *player, "amount": *amount}
	return printResult(client.post("/v1/games", body))(stdout, stderr)
}

func runGameJoin(client *gatewayClient, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("game join", stderr)
	id := fs.String("id", "", "game id")
	player := fs.String("player", "", "second player bech32 address")
	amount := fs.String("amount", "", "stake in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	gameID, err := parseGameID(*id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := requireAddress("player", *player); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := requireAmount(*amount); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	body := map[string]string{"player": *player, "amount": *amount}
	return printResult(client.post(gamePath(gameID, "/join"), body))(stdout, stderr)
}

func runGameRelease(client *gatewayClient, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("game release", stderr)
	id := fs.String("id", "", "game id")
	winner := fs.String("winner", "", "winner bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	gameID, err := parseGameID(*id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := requireAddress("winner", *winner); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return printResult(client.post(gamePath(gameID, "/release"), map[string]string{"winner": *winner}))(stdout, stderr)
}

func runGameAction(client *gatewayClient, action string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("game "+action, stderr)
	id := fs.String("id", "", "game id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	gameID, err := parseGameID(*id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return printResult(client.post(gamePath(gameID, "/"+action), nil))(stdout, stderr)
}

func runGameQuery(client *gatewayClient, suffix string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("game query", stderr)
	id := fs.String("id", "", "game id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	gameID, err := parseGameID(*id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return printResult(client.get(gamePath(gameID, suffix)))(stdout, stderr)
}

func runGameList(client *gatewayClient, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("game list", stderr)
	status := fs.String("status", "all", "filter: all, open or settled")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return printResult(client.get("/v1/games?status=" + url.QueryEscape(*status)))(stdout, stderr)
}

func runBalance(client *gatewayClient, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: wager-cli balance <address>")
		return 1
	}
	if err := requireAddress("address", args[0]); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return printResult(client.get("/v1/balances/" + url.PathEscape(args[0])))(stdout, stderr)
}

func runDeposit(client *gatewayClient, args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "Usage: wager-cli deposit <address> <amount>")
		return 1
	}
	if err := requireAddress("address", args[0]); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := requireAmount(args[1]); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return printResult(client.post("/v1/balances/"+url.PathEscape(args[0])+"/deposit", map[string]string{"amount": args[1]}))(stdout, stderr)
}

func runPause(client *gatewayClient, args []string, stdout, stderr io.Writer, paused bool) int {
	if len(args) != 0 {
		fmt.Fprintln(stderr, "Usage: wager-cli pause|resume")
		return 1
	}
	return printResult(client.post("/v1/admin/pause", map[string]bool{"paused": paused}))(stdout, stderr)
}

func runGenerateKey(stdout, stderr io.Writer) int {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "address: %s\n", crypto.AddressFromPublicKey(&key.PublicKey))
	fmt.Fprintf(stdout, "private key: %x\n", ethcrypto.FromECDSA(key))
	return 0
}

func printResult(payload json.RawMessage, err error) func(stdout, stderr io.Writer) int {
	return func(stdout, stderr io.Writer) int {
		if err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Code != 0 {
				fmt.Fprintf(stderr, "Error %d: %s\n", apiErr.Code, apiErr.Message)
				return 2
			}
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		var pretty bytes.Buffer
		if json.Indent(&pretty, payload, "", "  ") != nil {
			_, _ = stdout.Write(payload)
			return 0
		}
		fmt.Fprintln(stdout, strings.TrimSpace(pretty.String()))
		return 0
	}
}

func gamePath(gameID uint64, suffix string) string {
	return "/v1/games/" + strconv.FormatUint(gameID, 10) + suffix
}

func parseGameID(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, errors.New("--id is required")
	}
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid game id %q", raw)
	}
	return id, nil
}

func requireAddress(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("--%s is required", field)
	}
	if _, err := crypto.ParseAddress(raw); err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	return nil
}

func requireAmount(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("--amount is required")
	}
	if !isBigInteger(raw) {
		return fmt.Errorf("invalid amount %q", raw)
	}
	return nil
}

func isBigInteger(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
