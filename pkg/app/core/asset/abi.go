package asset

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const tokenABIString = `[
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const collectibleABIString = `[
	{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"safeTransferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"approve","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setApprovalForAll","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]}
]`

var (
	tokenABI       = mustParseABI(tokenABIString)
	collectibleABI = mustParseABI(collectibleABIString)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("failed to parse contract ABI: %v", err))
	}
	return parsed
}

// decodeCall splits calldata into its method and unpacked arguments.
func decodeCall(contractABI abi.ABI, data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("%w: calldata too short (%d bytes)", ErrUnknownMethod, len(data))
	}
	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: selector %x", ErrUnknownMethod, data[:4])
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s arguments: %w", method.Name, err)
	}
	return method, args, nil
}

// TransferFromCalldata encodes transferFrom(from, to, value). ERC-20 and
// ERC-721 share the selector 0x23b872dd, so the result drives either.
func TransferFromCalldata(from, to common.Address, value *big.Int) []byte {
	data, err := tokenABI.Pack("transferFrom", from, to, value)
	if err != nil {
		panic(fmt.Sprintf("failed to pack transferFrom: %v", err))
	}
	return data
}

// SafeTransferFromCalldata encodes the ERC-721 safeTransferFrom(from, to, tokenId).
func SafeTransferFromCalldata(from, to common.Address, id *big.Int) []byte {
	data, err := collectibleABI.Pack("safeTransferFrom", from, to, id)
	if err != nil {
		panic(fmt.Sprintf("failed to pack safeTransferFrom: %v", err))
	}
	return data
}

// ApproveCalldata encodes approve(spender, value) for either contract kind.
func ApproveCalldata(spender common.Address, value *big.Int) []byte {
	data, err := tokenABI.Pack("approve", spender, value)
	if err != nil {
		panic(fmt.Sprintf("failed to pack approve: %v", err))
	}
	return data
}

// TransferCalldata encodes the ERC-20 transfer(to, amount).
func TransferCalldata(to common.Address, amount *big.Int) []byte {
	data, err := tokenABI.Pack("transfer", to, amount)
	if err != nil {
		panic(fmt.Sprintf("failed to pack transfer: %v", err))
	}
	return data
}

// SetApprovalForAllCalldata encodes the ERC-721 setApprovalForAll(operator, approved).
func SetApprovalForAllCalldata(operator common.Address, approved bool) []byte {
	data, err := collectibleABI.Pack("setApprovalForAll", operator, approved)
	if err != nil {
		panic(fmt.Sprintf("failed to pack setApprovalForAll: %v", err))
	}
	return data
}
