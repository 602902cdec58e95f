package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"perpstake/cmd/internal/passphrase"
	"perpstake/crypto"
	"perpstake/rpc"
)

const (
	walletPassEnv = "PERPSTAKE_WALLET_PASS"
	jwtSecretEnv  = "PERPSTAKE_JWT_SECRET"
)

type command struct {
	usage string
	run   func(c *client, args []string, stdout io.Writer) error
}

var commandOrder = []string{
	"keygen", "address", "token",
	"ledger", "account", "pending", "history", "balance",
	"stake", "lock", "unstake", "finalize", "withdraw", "claim",
	"resolve", "report-fee", "fund",
}

var commands = map[string]command{
	"keygen":     {"[-out FILE] [-light]  create a wallet keystore", runKeygen},
	"address":    {"-keystore FILE  print the wallet address", runAddress},
	"token":      {"-keystore FILE [-ttl 1h] [-issuer I] [-audience A]  sign an API token", runToken},
	"ledger":     {"show the round ledger", queryCommand("stake_getLedger", nil)},
	"account":    {"<owner>  show a stake account", queryCommand("stake_getAccount", []string{"owner"})},
	"pending":    {"<owner> [caller]  preview a claim", runPending},
	"history":    {"<owner> [cursor] [limit]  list settled claims", runHistory},
	"balance":    {"<address> <STAKE|REWARD>  show a token balance", queryCommand("stake_getBalance", []string{"address", "token"})},
	"stake":      {"<owner> <amount>  add liquid stake", txCommand("stake_addLiquid", []string{"owner", "amount"})},
	"lock":       {"<owner> <amount> <days>  add a locked stake", runLock},
	"unstake":    {"<owner> <amount>  remove liquid stake", txCommand("stake_removeLiquid", []string{"owner", "amount"})},
	"finalize":   {"<owner> <index>  finalize an unlocked stake", runIndexed("stake_finalizeLocked")},
	"withdraw":   {"<owner> <index>  withdraw a finalized stake", runIndexed("stake_removeLocked")},
	"claim":      {"<owner>  claim rewards", txCommand("stake_claim", []string{"owner"})},
	"resolve":    {"resolve the current round", txCommand("round_resolve", nil)},
	"report-fee": {"<category> <fee>  report a protocol fee", txCommand("fees_report", []string{"category", "fee"})},
	"fund":       {"<address> <amount>  mint stake tokens (dev faucet)", queryCommand("faucet_fund", []string{"to", "amount"})},
}

func positional(args []string, names []string) (map[string]interface{}, error) {
	if len(args) != len(names) {
		return nil, fmt.Errorf("expected %d argument(s): %s", len(names), strings.Join(names, " "))
	}
	params := make(map[string]interface{}, len(names))
	for i, name := range names {
		params[name] = args[i]
	}
	return params, nil
}

func invoke(c *client, method string, params interface{}, auth bool, stdout io.Writer) error {
	result, err := c.call(method, params, auth)
	if err != nil {
		return err
	}
	printJSONResult(stdout, result)
	return nil
}

func queryCommand(method string, names []string) func(*client, []string, io.Writer) error {
	return methodCommand(method, names, false)
}

func txCommand(method string, names []string) func(*client, []string, io.Writer) error {
	return methodCommand(method, names, true)
}

func methodCommand(method string, names []string, auth bool) func(*client, []string, io.Writer) error {
	return func(c *client, args []string, stdout io.Writer) error {
		params, err := positional(args, names)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return invoke(c, method, nil, auth, stdout)
		}
		return invoke(c, method, params, auth, stdout)
	}
}

func runPending(c *client, args []string, stdout io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: pending <owner> [caller]")
	}
	params := map[string]interface{}{"owner": args[0]}
	if len(args) == 2 {
		params["caller"] = args[1]
	}
	return invoke(c, "stake_pendingReward", params, false, stdout)
}

func runHistory(c *client, args []string, stdout io.Writer) error {
	if len(args) < 1 || len(args) > 3 {
		return errors.New("usage: history <owner> [cursor] [limit]")
	}
	params := map[string]interface{}{"owner": args[0]}
	if len(args) >= 2 && args[1] != "" {
		params["cursor"] = args[1]
	}
	if len(args) == 3 {
		limit, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid limit: %w", err)
		}
		params["limit"] = limit
	}
	return invoke(c, "stake_claimHistory", params, false, stdout)
}

func runLock(c *client, args []string, stdout io.Writer) error {
	if len(args) != 3 {
		return errors.New("usage: lock <owner> <amount> <days>")
	}
	days, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid lock days: %w", err)
	}
	params := map[string]interface{}{"owner": args[0], "amount": args[1], "lockDays": days}
	return invoke(c, "stake_addLocked", params, true, stdout)
}

func runIndexed(method string) func(*client, []string, io.Writer) error {
	return func(c *client, args []string, stdout io.Writer) error {
		if len(args) != 2 {
			return errors.New("expected <owner> <index>")
		}
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid index: %w", err)
		}
		return invoke(c, method, map[string]interface{}{"owner": args[0], "index": index}, true, stdout)
	}
}

func walletPassphrase() (string, error) {
	return passphrase.NewSource(walletPassEnv, "wallet").Get()
}

func runKeygen(_ *client, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	out := fs.String("out", "wallet.keystore", "keystore file to create")
	light := fs.Bool("light", false, "use light scrypt parameters")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*out); err == nil {
		return fmt.Errorf("%s already exists", *out)
	}
	pass, err := walletPassphrase()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*out, key, pass, *light); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Saved %s\nAddress: %s\n", *out, key.Address())
	return nil
}

func loadWalletAddress(path string) (crypto.Address, error) {
	if strings.TrimSpace(path) == "" {
		return crypto.Address{}, errors.New("-keystore is required")
	}
	pass, err := walletPassphrase()
	if err != nil {
		return crypto.Address{}, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return crypto.Address{}, err
	}
	return key.Address(), nil
}

func runAddress(_ *client, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	keystore := fs.String("keystore", "", "wallet keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := loadWalletAddress(*keystore)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, addr)
	return nil
}

// runToken signs an API token for the wallet. It needs the server's HMAC
// secret and is meant for operators and local development.
func runToken(_ *client, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	keystore := fs.String("keystore", "", "wallet keystore file")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	issuer := fs.String("issuer", "perpstake", "token issuer")
	audience := fs.String("audience", "stakerd", "token audience")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret := strings.TrimSpace(os.Getenv(jwtSecretEnv))
	if secret == "" {
		return fmt.Errorf("%s must be set", jwtSecretEnv)
	}
	addr, err := loadWalletAddress(*keystore)
	if err != nil {
		return err
	}
	token, err := rpc.SignActorToken([]byte(secret), *issuer, *audience, addr, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}
