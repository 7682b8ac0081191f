package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleState() *PipelineState {
	return &PipelineState{
		Version:    SchemaVersion,
		PipelineID: "p-1",
		Phase:      PhaseShielding,
		Path:       PathUSDCWallet,
		Asset: &CashoutAsset{
			Mint:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Symbol:   "USDC",
			Decimals: 6,
			Balance:  9_000_000,
			IsUSDC:   true,
		},
		Amount:           5_000_000,
		FiatCurrency:     "usd",
		WalletAddress:    "wallet-1",
		ComplianceResult: &ComplianceResult{Passed: true},
		StartedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestFileStoreSaveAndLoad(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	if err := s.Save(ctx, sampleState()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil after Save")
	}
	if got.Phase != PhaseShielding {
		t.Errorf("Phase = %q, want %q", got.Phase, PhaseShielding)
	}
	if got.Path != PathUSDCWallet {
		t.Errorf("Path = %q, want %q", got.Path, PathUSDCWallet)
	}
	if got.Asset == nil || got.Asset.Symbol != "USDC" {
		t.Errorf("Asset = %+v, want USDC", got.Asset)
	}
	if got.Amount != 5_000_000 {
		t.Errorf("Amount = %d, want 5000000", got.Amount)
	}
	if !got.StartedAt.Equal(sampleState().StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, sampleState().StartedAt)
	}
}

func TestFileStoreLoadEmpty(t *testing.T) {
	s := NewFileStore(t.TempDir())

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("Load = %+v, want nil", got)
	}
}

func TestFileStoreRemove(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	if err := s.Save(ctx, sampleState()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Remove(ctx); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load after Remove: %v", err)
	}
	if got != nil {
		t.Error("expected no state after Remove")
	}

	// Removing twice is not an error.
	if err := s.Remove(ctx); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestFileStoreFilePermissions(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	if err := s.Save(context.Background(), sampleState()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, StateKey+".json"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestFileStoreRejectsUnknownPhase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, StateKey+".json")
	if err := os.WriteFile(path, []byte(`{"version":1,"phase":"teleporting"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := NewFileStore(dir).Load(context.Background())
	if err == nil {
		t.Fatal("expected error for unknown phase")
	}
	if !strings.Contains(err.Error(), "teleporting") {
		t.Errorf("error = %v, want mention of the bad phase", err)
	}
}

func TestUnmarshalRejectsNewerVersion(t *testing.T) {
	_, err := Unmarshal([]byte(`{"version":99,"phase":"idle"}`))
	if err == nil {
		t.Fatal("expected error for newer schema version")
	}
}

func TestUnmarshalRejectsUnknownPath(t *testing.T) {
	_, err := Unmarshal([]byte(`{"version":1,"phase":"shielding","path":"sideways"}`))
	if err == nil {
		t.Fatal("expected error for unknown path")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if got, _ := s.Load(ctx); got != nil {
		t.Fatal("new MemoryStore should be empty")
	}
	if err := s.Save(ctx, sampleState()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil || got == nil {
		t.Fatalf("Load = %v, %v", got, err)
	}
	if got.PipelineID != "p-1" {
		t.Errorf("PipelineID = %q, want p-1", got.PipelineID)
	}
	_ = s.Remove(ctx)
	if got, _ := s.Load(ctx); got != nil {
		t.Error("expected nil after Remove")
	}
}

func TestWriteAtomicNoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")
	if err := WriteAtomic(path, []byte("{}"), 0o600); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

func TestCloneIsDeep(t *testing.T) {
	ps := sampleState()
	ps.StageHistory = []StageHistoryEntry{{Phase: PhaseCompliancePrescreen, Outcome: "success"}}

	cp := ps.Clone()
	cp.Asset.Symbol = "XYZ"
	cp.ComplianceResult.Passed = false
	cp.StageHistory[0].Outcome = "fail"

	if ps.Asset.Symbol != "USDC" {
		t.Error("Clone shares Asset with original")
	}
	if !ps.ComplianceResult.Passed {
		t.Error("Clone shares ComplianceResult with original")
	}
	if ps.StageHistory[0].Outcome != "success" {
		t.Error("Clone shares StageHistory with original")
	}
}
