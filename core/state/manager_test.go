package state

import (
	"errors"
	"math/big"
	"testing"

	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/storage"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func testAddr(fill byte) types.Address {
	var a types.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

func sampleEscrow(id escrow.EscrowID) *escrow.Escrow {
	return &escrow.Escrow{
		ID:               id,
		Status:           escrow.StatusPending,
		EndTime:          1_234,
		ManifestURL:      []byte("https://example.com/m.json"),
		ManifestHash:     []byte{0xAA, 0xBB},
		ReputationOracle: testAddr(0x0A),
		RecordingOracle:  testAddr(0x0B),
		ReputationStake:  10,
		RecordingStake:   20,
		Canceller:        testAddr(0x0C),
		Account:          escrow.DeriveAccount(id),
		Factory:          "batch-1",
	}
}

func TestEscrowRoundTrip(t *testing.T) {
	m := testManager(t)
	id := escrow.EscrowIDFromUint64(1)
	original := sampleEscrow(id)

	if err := m.EscrowPut(original); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok := m.EscrowGet(id)
	if !ok {
		t.Fatalf("escrow not found after put")
	}
	if loaded.ID != original.ID || loaded.Status != original.Status || loaded.EndTime != original.EndTime {
		t.Fatalf("header mismatch: %+v", loaded)
	}
	if string(loaded.ManifestURL) != string(original.ManifestURL) || string(loaded.ManifestHash) != string(original.ManifestHash) {
		t.Fatalf("manifest mismatch: %+v", loaded)
	}
	if loaded.ReputationOracle != original.ReputationOracle || loaded.RecordingOracle != original.RecordingOracle {
		t.Fatalf("oracle mismatch: %+v", loaded)
	}
	if loaded.ReputationStake != 10 || loaded.RecordingStake != 20 {
		t.Fatalf("stake mismatch: %+v", loaded)
	}
	if loaded.Canceller != original.Canceller || loaded.Account != original.Account || loaded.Factory != "batch-1" {
		t.Fatalf("ownership mismatch: %+v", loaded)
	}

	if err := m.EscrowDelete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := m.EscrowGet(id); ok {
		t.Fatalf("escrow found after delete")
	}
}

func TestEscrowPutRejectsInvalid(t *testing.T) {
	m := testManager(t)
	bad := sampleEscrow(escrow.EscrowIDFromUint64(1))
	bad.ReputationStake = 60
	bad.RecordingStake = 41
	if err := m.EscrowPut(bad); !errors.Is(err, escrow.ErrStakeOutOfBounds) {
		t.Fatalf("expected ErrStakeOutOfBounds, got %v", err)
	}
}

func TestEscrowNextIDMonotonic(t *testing.T) {
	m := testManager(t)
	first, err := m.EscrowNextID()
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if first != (escrow.EscrowID{}) {
		t.Fatalf("expected zero first id, got %s", first)
	}

	prev := first
	seen := map[escrow.EscrowID]bool{first: true}
	for i := 0; i < 10; i++ {
		id, err := m.EscrowNextID()
		if err != nil {
			t.Fatalf("next id: %v", err)
		}
		if seen[id] {
			t.Fatalf("id %s reused", id)
		}
		if id != prev.Next() {
			t.Fatalf("counter skipped: %s after %s", id, prev)
		}
		seen[id] = true
		prev = id

		// Deleting a record never rewinds the counter.
		if err := m.EscrowDelete(id); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
}

func TestTrustRegistry(t *testing.T) {
	m := testManager(t)
	id := escrow.EscrowIDFromUint64(4)
	a, b := testAddr(0x01), testAddr(0x02)

	if m.IsTrustedHandler(id, a) {
		t.Fatalf("fresh registry reported trusted handler")
	}
	if err := m.TrustedPut(id, a); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.TrustedPut(id, b); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.TrustedPut(id, a); err != nil {
		t.Fatalf("idempotent put: %v", err)
	}
	if !m.IsTrustedHandler(id, a) || !m.IsTrustedHandler(id, b) {
		t.Fatalf("handlers not trusted after put")
	}
	count, err := m.TrustedCount(id)
	if err != nil || count != 2 {
		t.Fatalf("expected count 2, got %d (%v)", count, err)
	}
	handlers, err := m.TrustedHandlers(id)
	if err != nil || len(handlers) != 2 || handlers[0] != a || handlers[1] != b {
		t.Fatalf("unexpected handler list: %v (%v)", handlers, err)
	}

	if err := m.TrustedClear(id); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if m.IsTrustedHandler(id, a) || m.IsTrustedHandler(id, b) {
		t.Fatalf("handlers trusted after clear")
	}
	if count, _ := m.TrustedCount(id); count != 0 {
		t.Fatalf("expected empty registry after clear, got %d", count)
	}
}

func TestResultsRoundTrip(t *testing.T) {
	m := testManager(t)
	id := escrow.EscrowIDFromUint64(5)

	if _, ok := m.ResultsGet(id); ok {
		t.Fatalf("results found before put")
	}
	if err := m.ResultsPut(id, &escrow.ResultInfo{ResultsURL: []byte("first"), ResultsHash: []byte{0x01}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.ResultsPut(id, &escrow.ResultInfo{ResultsURL: []byte("second"), ResultsHash: []byte{0x02}}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	results, ok := m.ResultsGet(id)
	if !ok || string(results.ResultsURL) != "second" || results.ResultsHash[0] != 0x02 {
		t.Fatalf("expected last write to win, got %+v", results)
	}
	if err := m.ResultsPut(id, nil); err == nil {
		t.Fatalf("nil results accepted")
	}
	if err := m.ResultsDelete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := m.ResultsGet(id); ok {
		t.Fatalf("results found after delete")
	}
}

func TestFactoryIndex(t *testing.T) {
	m := testManager(t)
	id1 := escrow.EscrowIDFromUint64(1)
	id2 := escrow.EscrowIDFromUint64(2)

	if err := m.FactoryAdd("batch", id1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.FactoryAdd("batch", id2); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.FactoryAdd("batch", id1); err != nil {
		t.Fatalf("idempotent add: %v", err)
	}
	list, err := m.FactoryList("batch")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected two entries, got %v (%v)", list, err)
	}

	if err := m.FactoryRemove("batch", id1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	list, _ = m.FactoryList("batch")
	if len(list) != 1 || list[0] != id2 {
		t.Fatalf("expected [%s], got %v", id2, list)
	}

	if err := m.FactoryRemove("batch", id2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	list, _ = m.FactoryList("batch")
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %v", list)
	}
}

func TestAccountsAndTransfer(t *testing.T) {
	m := testManager(t)
	alice, bob := testAddr(0xA1), testAddr(0xB2)

	acc, err := m.GetAccount(alice)
	if err != nil || acc.Balance.Sign() != 0 {
		t.Fatalf("expected zero account, got %+v (%v)", acc, err)
	}

	acc.Balance = big.NewInt(500)
	acc.Nonce = 3
	if err := m.PutAccount(alice, acc); err != nil {
		t.Fatalf("put account: %v", err)
	}
	loaded, err := m.GetAccount(alice)
	if err != nil || loaded.Balance.Int64() != 500 || loaded.Nonce != 3 {
		t.Fatalf("account round trip failed: %+v (%v)", loaded, err)
	}

	if err := m.Transfer(alice, bob, big.NewInt(200)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, _ := m.BalanceOf(alice)
	bobBal, _ := m.BalanceOf(bob)
	if aliceBal.Int64() != 300 || bobBal.Int64() != 200 {
		t.Fatalf("unexpected balances %v/%v", aliceBal, bobBal)
	}

	if err := m.Transfer(alice, bob, big.NewInt(1_000)); err == nil {
		t.Fatalf("overdraft accepted")
	}
}

func TestTotalSupply(t *testing.T) {
	m := testManager(t)
	supply, err := m.TotalSupplyGet()
	if err != nil || supply.Sign() != 0 {
		t.Fatalf("expected zero supply, got %v (%v)", supply, err)
	}
	if err := m.TotalSupplyPut(big.NewInt(1_000)); err != nil {
		t.Fatalf("put: %v", err)
	}
	supply, _ = m.TotalSupplyGet()
	if supply.Int64() != 1_000 {
		t.Fatalf("expected supply 1000, got %v", supply)
	}
	if err := m.TotalSupplyPut(big.NewInt(-1)); err == nil {
		t.Fatalf("negative supply accepted")
	}
}

func TestKVEntries(t *testing.T) {
	m := testManager(t)
	owner := testAddr(0x01)
	other := testAddr(0x02)

	if _, found, err := m.KVGet(owner, []byte("k")); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}
	if err := m.KVPut(owner, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, found, err := m.KVGet(owner, []byte("k"))
	if err != nil || !found || string(value) != "v" {
		t.Fatalf("round trip failed: %q found=%v err=%v", value, found, err)
	}

	// Entries are namespaced per owner.
	if _, found, _ := m.KVGet(other, []byte("k")); found {
		t.Fatalf("entry visible under a different owner")
	}
}

func TestWithTransactionCommit(t *testing.T) {
	m := testManager(t)
	alice, bob := testAddr(0xA1), testAddr(0xB2)
	if err := m.PutAccount(alice, &types.Account{Balance: big.NewInt(100)}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	id := escrow.EscrowIDFromUint64(8)

	err := m.WithTransaction(func(state escrow.EngineState) error {
		if err := state.Transfer(alice, bob, big.NewInt(40)); err != nil {
			return err
		}
		return state.EscrowPut(sampleEscrow(id))
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	bobBal, _ := m.BalanceOf(bob)
	if bobBal.Int64() != 40 {
		t.Fatalf("transfer not committed, bob has %v", bobBal)
	}
	if _, ok := m.EscrowGet(id); !ok {
		t.Fatalf("escrow write not committed")
	}
}

func TestWithTransactionRollback(t *testing.T) {
	m := testManager(t)
	alice, bob := testAddr(0xA1), testAddr(0xB2)
	if err := m.PutAccount(alice, &types.Account{Balance: big.NewInt(100)}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	id := escrow.EscrowIDFromUint64(9)
	if err := m.EscrowPut(sampleEscrow(id)); err != nil {
		t.Fatalf("seed escrow: %v", err)
	}

	boom := errors.New("boom")
	err := m.WithTransaction(func(state escrow.EngineState) error {
		if err := state.Transfer(alice, bob, big.NewInt(40)); err != nil {
			return err
		}
		if err := state.EscrowDelete(id); err != nil {
			return err
		}
		// Writes are visible inside the transaction before the failure.
		if _, ok := state.EscrowGet(id); ok {
			t.Fatalf("delete not visible inside transaction")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	aliceBal, _ := m.BalanceOf(alice)
	bobBal, _ := m.BalanceOf(bob)
	if aliceBal.Int64() != 100 || bobBal.Sign() != 0 {
		t.Fatalf("balances leaked from aborted transaction: %v/%v", aliceBal, bobBal)
	}
	if _, ok := m.EscrowGet(id); !ok {
		t.Fatalf("delete leaked from aborted transaction")
	}
}
