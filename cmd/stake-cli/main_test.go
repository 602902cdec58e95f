package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"perpstake/core/events"
	"perpstake/core/ledger"
	"perpstake/crypto"
	"perpstake/rpc"
	"perpstake/storage"
)

var testSecret = []byte("cli-test-secret")

func newTestNode(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	stream := events.NewStream(nil)
	engine, err := ledger.New(storage.NewMemDB(), ledger.DefaultConfig(time.Now().Unix()),
		ledger.WithEmitter(stream), ledger.WithLogger(logger))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	server := rpc.NewServer(engine, stream, rpc.Config{
		Auth:   rpc.AuthConfig{HMACSecret: testSecret, Issuer: "perpstake", Audience: "stakerd"},
		Faucet: true,
	}, logger)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestStakeAndInspectAccount(t *testing.T) {
	url := newTestNode(t)
	owner := crypto.DeriveAddress("cli-owner")
	token, err := rpc.SignActorToken(testSecret, "perpstake", "stakerd", owner, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if code, _, stderr := runCLI(t, "--rpc", url, "fund", owner.String(), "500"); code != 0 {
		t.Fatalf("fund failed: %s", stderr)
	}
	if code, _, stderr := runCLI(t, "--rpc="+url, "--token", token, "stake", owner.String(), "200"); code != 0 {
		t.Fatalf("stake failed: %s", stderr)
	}
	code, stdout, stderr := runCLI(t, "--rpc", url, "account", owner.String())
	if code != 0 {
		t.Fatalf("account failed: %s", stderr)
	}
	var result rpc.AccountResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("decode account: %v\n%s", err, stdout)
	}
	if result.Weight != 200 || result.Account.LiquidStake.Amount != 200 {
		t.Fatalf("unexpected account %+v", result)
	}

	code, stdout, _ = runCLI(t, "--rpc", url, "balance", owner.String(), "stake")
	if code != 0 || !strings.Contains(stdout, `"balance": 300`) {
		t.Fatalf("unexpected balance output %q", stdout)
	}
}

func TestPrivilegedCommandsNeedToken(t *testing.T) {
	t.Setenv(rpcTokenEnv, "")
	url := newTestNode(t)
	code, _, stderr := runCLI(t, "--rpc", url, "claim", crypto.DeriveAddress("x").String())
	if code == 0 || !strings.Contains(stderr, rpcTokenEnv) {
		t.Fatalf("expected missing token error, got %d %q", code, stderr)
	}
}

func TestServerErrorsAreReported(t *testing.T) {
	url := newTestNode(t)
	actor := crypto.DeriveAddress("keeper")
	token, err := rpc.SignActorToken(testSecret, "perpstake", "stakerd", actor, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	code, _, stderr := runCLI(t, "--rpc", url, "--token="+token, "resolve")
	if code == 0 || !strings.Contains(stderr, "not yet resolvable") {
		t.Fatalf("expected resolve conflict, got %d %q", code, stderr)
	}
}

func TestUsageErrors(t *testing.T) {
	if code, _, _ := runCLI(t); code == 0 {
		t.Fatalf("expected usage error without a command")
	}
	if code, _, stderr := runCLI(t, "bogus"); code == 0 || !strings.Contains(stderr, "unknown command") {
		t.Fatalf("expected unknown command, got %q", stderr)
	}
	if code, _, _ := runCLI(t, "--rpc"); code == 0 {
		t.Fatalf("expected missing flag value error")
	}
	if code, _, stderr := runCLI(t, "stake", "only-owner"); code == 0 || !strings.Contains(stderr, "expected 2") {
		t.Fatalf("expected arity error, got %q", stderr)
	}
}

func TestKeygenAndAddress(t *testing.T) {
	t.Setenv(walletPassEnv, "wallet-pass")
	path := filepath.Join(t.TempDir(), "wallet.keystore")
	code, stdout, stderr := runCLI(t, "keygen", "-out", path, "-light")
	if code != 0 {
		t.Fatalf("keygen failed: %s", stderr)
	}
	code, addrOut, stderr := runCLI(t, "address", "-keystore", path)
	if code != 0 {
		t.Fatalf("address failed: %s", stderr)
	}
	addr := strings.TrimSpace(addrOut)
	if !strings.Contains(stdout, addr) {
		t.Fatalf("keygen output %q does not mention %s", stdout, addr)
	}
	if code, _, _ := runCLI(t, "keygen", "-out", path, "-light"); code == 0 {
		t.Fatalf("keygen must not overwrite an existing keystore")
	}

	t.Setenv(jwtSecretEnv, string(testSecret))
	code, tokenOut, stderr := runCLI(t, "token", "-keystore", path)
	if code != 0 || strings.Count(strings.TrimSpace(tokenOut), ".") != 2 {
		t.Fatalf("token failed: %q %s", tokenOut, stderr)
	}
}
