package chain

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestDecodeClaim(t *testing.T) {
	employee := common.HexToAddress("0x5b38da6a701c568545dcfcb03fcb875f56beddc4")
	lg := claimLog(t, employee, 50, 1700000000, "0xabc", 42)
	lg.Index = 3

	ev, err := DecodeClaim(lg)
	if err != nil {
		t.Fatalf("DecodeClaim: %v", err)
	}
	if ev.Employee != "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4" {
		t.Errorf("employee = %s, want checksummed form", ev.Employee)
	}
	if ev.Amount.Int64() != 50 || ev.Timestamp.Int64() != 1700000000 {
		t.Errorf("amount/ts = %s/%s", ev.Amount, ev.Timestamp)
	}
	if ev.TxHash != common.HexToHash("0xabc").Hex() {
		t.Errorf("tx = %s", ev.TxHash)
	}
	if ev.BlockNumber != 42 || ev.LogIndex != 3 {
		t.Errorf("block/index = %d/%d", ev.BlockNumber, ev.LogIndex)
	}
	if ev.ClaimedAt().Unix() != 1700000000 {
		t.Errorf("ClaimedAt = %v", ev.ClaimedAt())
	}
}

func TestDecodeClaim_Rejects(t *testing.T) {
	good := claimLog(t, common.HexToAddress("0x01"), 1, 1, "0x1", 1)

	removed := good
	removed.Removed = true
	if _, err := DecodeClaim(removed); !errors.Is(err, ErrRemovedLog) {
		t.Errorf("removed log: got %v", err)
	}

	wrongTopic := good
	wrongTopic.Topics = []common.Hash{common.HexToHash("0xdead"), good.Topics[1]}
	if _, err := DecodeClaim(wrongTopic); err == nil {
		t.Error("expected error for foreign topic")
	}

	short := good
	short.Data = []byte{0x01}
	if _, err := DecodeClaim(short); err == nil {
		t.Error("expected error for truncated data")
	}
}

func TestPackReconcile(t *testing.T) {
	data, err := PackReconcile("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4", common.Big1)
	if err != nil {
		t.Fatalf("PackReconcile: %v", err)
	}
	selector := crypto.Keccak256([]byte("reconcile(address,uint256)"))[:4]
	if !bytes.Equal(data[:4], selector) {
		t.Errorf("selector = %x, want %x", data[:4], selector)
	}
	if len(data) != 4+32+32 {
		t.Errorf("calldata length = %d", len(data))
	}
	if _, err := PackReconcile("not-an-address", common.Big1); err == nil {
		t.Error("expected error for invalid address")
	}
}
