package storage

import (
	"bufio"
	"encoding/json"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"voucherRelay/internal/model"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var out []map[string]interface{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestJsonlStorageAppends(t *testing.T) {
	store := NewJsonlStorage(t.TempDir() + "/out")

	listing := model.ListingEvent{
		ID:          big.NewInt(1),
		NFTContract: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		TokenID:     big.NewInt(2),
		Seller:      common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Price:       big.NewInt(1e18),
	}
	if err := store.PutListings([]model.ListingEvent{listing}); err != nil {
		t.Fatalf("put listings: %v", err)
	}
	if err := store.PutListings([]model.ListingEvent{listing}); err != nil {
		t.Fatalf("put listings: %v", err)
	}
	if err := store.PutListings(nil); err != nil {
		t.Fatalf("put empty listings: %v", err)
	}

	lines := readLines(t, store.ListingsPath())
	if len(lines) != 2 {
		t.Fatalf("expected 2 listing lines, got %d", len(lines))
	}
	if lines[0]["price_ether"] != "1.0" {
		t.Fatalf("price mismatch: %v", lines[0])
	}

	record := model.ExecutionRecord{InputIndex: 3, State: "EXECUTED", TxHash: "0xabc", At: "2024-01-01T00:00:00Z"}
	if err := store.PutExecution(record); err != nil {
		t.Fatalf("put execution: %v", err)
	}
	executions := readLines(t, store.ExecutionsPath())
	if len(executions) != 1 || executions[0]["state"] != "EXECUTED" {
		t.Fatalf("execution mismatch: %v", executions)
	}
}
