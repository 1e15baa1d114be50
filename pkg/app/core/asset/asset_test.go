package asset

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
)

var (
	alice   = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob     = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	carol   = common.HexToAddress("0xca40100000000000000000000000000000000003")
	tokenAt = common.HexToAddress("0x7000000000000000000000000000000000000007")
	nftAt   = common.HexToAddress("0x8000000000000000000000000000000000000008")
)

func newFundedToken(t *testing.T) *Token {
	t.Helper()
	tok := NewToken(tokenAt, "USDT", 18)
	tok.Mint(nil, alice, big.NewInt(100))
	return tok
}

func TestTokenTransfer(t *testing.T) {
	tok := newFundedToken(t)

	if err := tok.Call(nil, alice, TransferCalldata(bob, big.NewInt(30))); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := tok.BalanceOf(alice); got.Int64() != 70 {
		t.Errorf("alice balance = %s, want 70", got)
	}
	if got := tok.BalanceOf(bob); got.Int64() != 30 {
		t.Errorf("bob balance = %s, want 30", got)
	}

	err := tok.Call(nil, bob, TransferCalldata(alice, big.NewInt(31)))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}

	err = tok.Call(nil, alice, TransferCalldata(common.Address{}, big.NewInt(1)))
	if !errors.Is(err, ErrInvalidReceiver) {
		t.Errorf("err = %v, want ErrInvalidReceiver", err)
	}
}

func TestTokenTransferFromAllowance(t *testing.T) {
	tok := newFundedToken(t)

	err := tok.Call(nil, carol, TransferFromCalldata(alice, bob, big.NewInt(10)))
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want ErrInsufficientAllowance", err)
	}

	if err := tok.Call(nil, alice, ApproveCalldata(carol, big.NewInt(15))); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := tok.Call(nil, carol, TransferFromCalldata(alice, bob, big.NewInt(10))); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if got := tok.Allowance(alice, carol); got.Int64() != 5 {
		t.Errorf("allowance = %s, want 5", got)
	}

	// unlimited allowance is not decremented
	tok.Call(nil, alice, ApproveCalldata(carol, math.MaxBig256))
	if err := tok.Call(nil, carol, TransferFromCalldata(alice, bob, big.NewInt(10))); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if got := tok.Allowance(alice, carol); got.Cmp(math.MaxBig256) != 0 {
		t.Errorf("unlimited allowance changed to %s", got)
	}
	if got := tok.BalanceOf(bob); got.Int64() != 20 {
		t.Errorf("bob balance = %s, want 20", got)
	}
}

func TestTokenJournalRevert(t *testing.T) {
	tok := newFundedToken(t)
	j := state.NewJournal()

	tok.Call(j, alice, ApproveCalldata(carol, big.NewInt(50)))
	tok.Call(j, carol, TransferFromCalldata(alice, bob, big.NewInt(40)))
	tok.Mint(j, carol, big.NewInt(9))

	j.RevertToSnapshot(0)

	if got := tok.BalanceOf(alice); got.Int64() != 100 {
		t.Errorf("alice balance = %s, want 100", got)
	}
	if got := tok.BalanceOf(bob); got.Sign() != 0 {
		t.Errorf("bob balance = %s, want 0", got)
	}
	if got := tok.BalanceOf(carol); got.Sign() != 0 {
		t.Errorf("carol balance = %s, want 0", got)
	}
	if got := tok.Allowance(alice, carol); got.Sign() != 0 {
		t.Errorf("allowance = %s, want 0", got)
	}
}

func TestCollectibleTransfer(t *testing.T) {
	id := big.NewInt(1)
	c := NewCollectible(nftAt, "Farm")
	if err := c.Mint(nil, alice, id); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := c.Mint(nil, bob, id); !errors.Is(err, ErrTokenAlreadyMinted) {
		t.Errorf("err = %v, want ErrTokenAlreadyMinted", err)
	}

	tests := []struct {
		name    string
		caller  common.Address
		data    []byte
		wantErr error
	}{
		{"stranger", carol, TransferFromCalldata(alice, bob, id), ErrNotAuthorized},
		{"wrong from", alice, TransferFromCalldata(bob, carol, id), ErrNotAuthorized},
		{"missing token", alice, TransferFromCalldata(alice, bob, big.NewInt(99)), ErrNonexistentToken},
		{"zero receiver", alice, TransferFromCalldata(alice, common.Address{}, id), ErrInvalidReceiver},
		{"unknown selector", alice, TransferCalldata(bob, id), ErrUnknownMethod},
		{"short calldata", alice, []byte{0x23, 0xb8}, ErrUnknownMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Call(nil, tt.caller, tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// approved operator moves the token and the approval is cleared
	if err := c.Call(nil, alice, ApproveCalldata(carol, id)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := c.Call(nil, carol, SafeTransferFromCalldata(alice, bob, id)); err != nil {
		t.Fatalf("safeTransferFrom: %v", err)
	}
	if owner, _ := c.OwnerOf(id); owner != bob {
		t.Errorf("owner = %s, want bob", owner.Hex())
	}
	if got := c.GetApproved(id); got != (common.Address{}) {
		t.Errorf("approval not cleared: %s", got.Hex())
	}

	if err := c.Call(nil, bob, SetApprovalForAllCalldata(carol, true)); err != nil {
		t.Fatalf("setApprovalForAll: %v", err)
	}
	if !c.IsApprovedForAll(bob, carol) {
		t.Fatal("operator not set")
	}
	if err := c.Call(nil, carol, TransferFromCalldata(bob, alice, id)); err != nil {
		t.Fatalf("operator transfer: %v", err)
	}
}

func TestCollectibleJournalRevert(t *testing.T) {
	id := big.NewInt(5)
	c := NewCollectible(nftAt, "Farm")
	c.Mint(nil, alice, id)
	c.Call(nil, alice, ApproveCalldata(carol, id))

	j := state.NewJournal()
	if err := c.Call(j, carol, TransferFromCalldata(alice, bob, id)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	j.RevertToSnapshot(0)

	if owner, _ := c.OwnerOf(id); owner != alice {
		t.Errorf("owner = %s, want alice", owner.Hex())
	}
	if got := c.GetApproved(id); got != carol {
		t.Errorf("approval = %s, want carol", got.Hex())
	}
}

func TestHostDispatch(t *testing.T) {
	h := NewHost()
	tok := newFundedToken(t)
	col := NewCollectible(nftAt, "Farm")

	if err := h.Register(tok); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.Register(col)
	if err := h.Register(tok); !errors.Is(err, ErrDuplicateRegistration) {
		t.Errorf("err = %v, want ErrDuplicateRegistration", err)
	}

	if err := h.Call(nil, alice, tokenAt, TransferCalldata(bob, big.NewInt(1))); err != nil {
		t.Fatalf("call: %v", err)
	}
	if err := h.Call(nil, alice, carol, nil); !errors.Is(err, ErrNoContract) {
		t.Errorf("err = %v, want ErrNoContract", err)
	}

	if _, ok := h.Token(nftAt); ok {
		t.Error("collectible returned as token")
	}
	if _, ok := h.Collectible(nftAt); !ok {
		t.Error("collectible not found")
	}
	if cs := h.Contracts(); len(cs) != 2 || cs[0].Address() != tokenAt {
		t.Errorf("contracts not ordered by address")
	}
}

func TestStateRoundTrip(t *testing.T) {
	tok := newFundedToken(t)
	tok.Call(nil, alice, ApproveCalldata(bob, big.NewInt(3)))

	data, err := tok.MarshalState()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := NewToken(tokenAt, "USDT", 18)
	if err := restored.UnmarshalState(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.BalanceOf(alice).Int64() != 100 || restored.Allowance(alice, bob).Int64() != 3 {
		t.Error("token state not restored")
	}

	col := NewCollectible(nftAt, "Farm")
	col.Mint(nil, alice, big.NewInt(2))
	data, _ = col.MarshalState()
	restoredCol := NewCollectible(nftAt, "Farm")
	if err := restoredCol.UnmarshalState(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if owner, ok := restoredCol.OwnerOf(big.NewInt(2)); !ok || owner != alice {
		t.Error("collectible state not restored")
	}
}
