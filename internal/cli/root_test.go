package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/cashout/internal/pipeline"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// writeTestConfig writes a config using the in-memory store and an event
// log under a temp dir, and points --config at it.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := "wallet:\n  address: wallet-1\n  sub_org_id: org-1\n" +
		"store:\n  backend: memory\n" +
		"event_log:\n  path: " + filepath.Join(dir, "events.db") + "\n" +
		"watcher:\n  disabled: true\n" + extra
	path := filepath.Join(dir, "cashout.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { configFile = "" })
	return path
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"start", "status", "cancel", "retry", "reset", "complete",
		"classify", "history", "stats", "serve", "config", "db", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	cmds := [][]string{
		{"start"}, {"status"}, {"cancel"}, {"retry"}, {"reset"}, {"complete"},
		{"classify"}, {"history"}, {"stats"}, {"serve"},
		{"config", "validate"}, {"config", "show"}, {"config", "paths"},
		{"db", "migrate"}, {"db", "reset"},
	}
	for _, c := range cmds {
		args := append(append([]string{}, c...), "--help")
		out, err := executeCommand(args...)
		if err != nil {
			t.Errorf("%v --help failed: %v", c, err)
		}
		if out == "" {
			t.Errorf("%v --help produced no output", c)
		}
	}
}

func TestClassifyCommand(t *testing.T) {
	t.Cleanup(func() {
		classifyCmd.Flags().Set("usdc", "false")
		classifyCmd.Flags().Set("shielded", "false")
	})

	tests := []struct {
		args       []string
		path       string
		compliance string
		wantStage  string
		notStage   string
	}{
		{[]string{"classify"}, "xstock_full", "true", "swapping", ""},
		{[]string{"classify", "--usdc"}, "usdc_wallet", "true", "shielding", "swapping"},
		{[]string{"classify", "--shielded"}, "usdc_pool", "false", "unshielding", "  shielding"},
	}
	for _, tt := range tests {
		classifyCmd.Flags().Set("usdc", "false")
		classifyCmd.Flags().Set("shielded", "false")

		out, err := executeCommand(tt.args...)
		if err != nil {
			t.Fatalf("%v: %v", tt.args, err)
		}
		if !strings.Contains(out, "Path: "+tt.path) {
			t.Errorf("%v: output missing path %q:\n%s", tt.args, tt.path, out)
		}
		if !strings.Contains(out, "Compliance prescreen: "+tt.compliance) {
			t.Errorf("%v: output missing compliance %q:\n%s", tt.args, tt.compliance, out)
		}
		if !strings.Contains(out, tt.wantStage) {
			t.Errorf("%v: output missing stage %q", tt.args, tt.wantStage)
		}
		if tt.notStage != "" && strings.Contains(out, tt.notStage+"\n") {
			t.Errorf("%v: output should not list %q", tt.args, tt.notStage)
		}
	}
}

func TestStartRequestFromFlags(t *testing.T) {
	cmd := &cobra.Command{}
	registerStartFlags(cmd.Flags())
	err := cmd.ParseFlags([]string{
		"--mint", "mint-1", "--symbol", "TSLAx", "--decimals", "8",
		"--amount", "1500", "--balance", "2000", "--rwa", "--fiat", "EUR",
	})
	if err != nil {
		t.Fatal(err)
	}

	req, err := startRequestFromFlags(cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Asset.Mint != "mint-1" {
		t.Errorf("Mint = %q, want %q", req.Asset.Mint, "mint-1")
	}
	if req.Asset.Decimals != 8 {
		t.Errorf("Decimals = %d, want 8", req.Asset.Decimals)
	}
	if req.Amount != 1500 {
		t.Errorf("Amount = %d, want 1500", req.Amount)
	}
	if !req.Asset.IsRwa || req.Asset.IsUSDC {
		t.Errorf("flags = rwa:%v usdc:%v, want rwa only", req.Asset.IsRwa, req.Asset.IsUSDC)
	}
	if req.FiatCurrency != "eur" {
		t.Errorf("FiatCurrency = %q, want %q", req.FiatCurrency, "eur")
	}
}

func TestStartRequestFromFlags_ShieldedImpliesUSDC(t *testing.T) {
	cmd := &cobra.Command{}
	registerStartFlags(cmd.Flags())
	if err := cmd.ParseFlags([]string{"--amount", "10", "--shielded"}); err != nil {
		t.Fatal(err)
	}
	req, err := startRequestFromFlags(cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !req.Asset.IsUSDC {
		t.Error("shielded funds should be marked USDC")
	}
}

func TestStartRequestFromFlags_RequiresAmount(t *testing.T) {
	cmd := &cobra.Command{}
	registerStartFlags(cmd.Flags())
	if err := cmd.ParseFlags([]string{"--mint", "m", "--symbol", "S"}); err != nil {
		t.Fatal(err)
	}
	if _, err := startRequestFromFlags(cmd); err == nil {
		t.Error("expected error without --amount")
	}
}

func TestStatusCommand_Idle(t *testing.T) {
	path := writeTestConfig(t, "")
	out, err := executeCommand("status", "--config", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "No cash-out in progress.") {
		t.Errorf("unexpected status output: %s", out)
	}
}

func TestStatusCommand_DoesNotRewriteLiveRecord(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	store := pipeline.NewFileStore(stateDir)
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(context.Background(), &pipeline.PipelineState{
		Version:       pipeline.SchemaVersion,
		PipelineID:    "live-1",
		Phase:         pipeline.PhaseShielding,
		Path:          pipeline.PathUSDCWallet,
		WalletAddress: "wallet-1",
		SubOrgID:      "org-1",
	}); err != nil {
		t.Fatal(err)
	}

	content := "wallet:\n  address: wallet-1\n  sub_org_id: org-1\n" +
		"store:\n  backend: file\n  dir: " + stateDir + "\n" +
		"event_log:\n  path: " + filepath.Join(dir, "events.db") + "\n" +
		"watcher:\n  disabled: true\n"
	path := filepath.Join(dir, "cashout.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { configFile = "" })

	out, err := executeCommand("status", "--config", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "shielding") || !strings.Contains(out, "another cashout process") {
		t.Errorf("unexpected status output: %s", out)
	}

	saved, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if saved == nil || saved.Phase != pipeline.PhaseShielding {
		t.Errorf("stored record changed: %+v", saved)
	}
}

func TestCancelCommand_Idle(t *testing.T) {
	path := writeTestConfig(t, "")
	if _, err := executeCommand("cancel", "--config", path); err == nil {
		t.Error("expected error cancelling with nothing in progress")
	}
}

func TestHistoryCommand_Empty(t *testing.T) {
	path := writeTestConfig(t, "")
	out, err := executeCommand("history", "--config", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No events logged.") {
		t.Errorf("unexpected history output: %s", out)
	}
}

func TestConfigValidateCommand(t *testing.T) {
	path := writeTestConfig(t, "")
	out, err := executeCommand("config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("unexpected output: %s", out)
	}

	bad := writeTestConfig(t, "log:\n  level: loud\n")
	out, err = executeCommand("config", "validate", "--config", bad)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(out, "log.level") {
		t.Errorf("output should name the bad field, got: %s", out)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	path := writeTestConfig(t, "providers:\n  offramp:\n    api_key: pk_live_123\n")
	out, err := executeCommand("config", "show", "--config", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "pk_live_123") {
		t.Error("config show printed the off-ramp API key")
	}
	if !strings.Contains(out, "wallet-1") {
		t.Errorf("config show missing wallet address: %s", out)
	}
}

func TestDBResetRequiresConfirmation(t *testing.T) {
	path := writeTestConfig(t, "")
	if _, err := executeCommand("db", "reset", "--config", path); err == nil {
		t.Error("expected db reset to refuse without --yes")
	}
}
