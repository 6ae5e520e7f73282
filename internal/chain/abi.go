// Package chain talks to the payroll contract: it streams SalaryClaimed logs
// and submits signed reconcile transactions.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alfredjeanlab/paybridge/internal/model"
)

const payrollABIJSON = `[
  {"type":"event","name":"SalaryClaimed","anonymous":false,"inputs":[
    {"name":"employee","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"ts","type":"uint256","indexed":false}]},
  {"type":"function","name":"reconcile","stateMutability":"nonpayable","outputs":[],"inputs":[
    {"name":"employee","type":"address"},
    {"name":"amount","type":"uint256"}]}
]`

// PayrollABI is the subset of the payroll contract interface this service uses.
var PayrollABI = mustParseABI(payrollABIJSON)

// SalaryClaimedTopic is topic[0] of every SalaryClaimed log.
var SalaryClaimedTopic = PayrollABI.Events["SalaryClaimed"].ID

// ErrRemovedLog marks a log dropped by a chain reorganisation.
var ErrRemovedLog = errors.New("log removed by reorg")

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse payroll abi: %v", err))
	}
	return parsed
}

// DecodeClaim turns a SalaryClaimed log into a ClaimEvent. The employee is
// returned in EIP-55 checksummed form.
func DecodeClaim(lg types.Log) (model.ClaimEvent, error) {
	if lg.Removed {
		return model.ClaimEvent{}, ErrRemovedLog
	}
	if len(lg.Topics) != 2 || lg.Topics[0] != SalaryClaimedTopic {
		return model.ClaimEvent{}, fmt.Errorf("log %s/%d is not SalaryClaimed", lg.TxHash.Hex(), lg.Index)
	}

	values, err := PayrollABI.Unpack("SalaryClaimed", lg.Data)
	if err != nil {
		return model.ClaimEvent{}, fmt.Errorf("unpack SalaryClaimed: %w", err)
	}
	if len(values) != 2 {
		return model.ClaimEvent{}, fmt.Errorf("unpack SalaryClaimed: got %d values", len(values))
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return model.ClaimEvent{}, fmt.Errorf("unpack SalaryClaimed: amount is %T", values[0])
	}
	ts, ok := values[1].(*big.Int)
	if !ok {
		return model.ClaimEvent{}, fmt.Errorf("unpack SalaryClaimed: ts is %T", values[1])
	}

	return model.ClaimEvent{
		Employee:    common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		Amount:      amount,
		Timestamp:   ts,
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}, nil
}

// PackReconcile encodes the calldata for reconcile(employee, amount).
func PackReconcile(employee string, amount *big.Int) ([]byte, error) {
	if !common.IsHexAddress(employee) {
		return nil, fmt.Errorf("invalid employee address %q", employee)
	}
	return PayrollABI.Pack("reconcile", common.HexToAddress(employee), amount)
}
