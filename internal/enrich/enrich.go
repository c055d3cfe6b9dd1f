// Package enrich reads lender group pool state directly from the contracts
// to supplement what events alone cannot provide: token and protocol wiring
// at pool initialization, the current computed minimum interest rate, and
// the token difference accumulated from liquidations.
package enrich

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/teller-protocol/teller-protocol-v2/internal/logger"
)

// ContractCaller is the read-only call surface the reader needs. Every call
// carries the block of the event being processed so replayed blocks read the
// same contract state the first pass did.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// lender group pool read functions
const poolReaderABI = `[
	{"type":"function","stateMutability":"view","name":"getPrincipalTokenAddress","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","stateMutability":"view","name":"getCollateralTokenAddress","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","stateMutability":"view","name":"poolSharesToken","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","stateMutability":"view","name":"TELLER_V2","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","stateMutability":"view","name":"SMART_COMMITMENT_FORWARDER","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","stateMutability":"view","name":"getMinInterestRate","inputs":[{"name":"amountDelta","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"tokenDifferenceFromLiquidations","inputs":[],"outputs":[{"name":"","type":"int256"}]}
]`

// PoolConfig is the contract-level identity of a lender group pool, read
// once when the pool announces its initialization.
type PoolConfig struct {
	PrincipalToken           common.Address
	CollateralToken          common.Address
	SharesToken              common.Address
	TellerV2                 common.Address
	SmartCommitmentForwarder common.Address
}

// Reader performs the contract reads.
type Reader struct {
	caller ContractCaller
	abi    abi.ABI
	log    *logger.Logger
}

// NewReader creates a contract state reader.
func NewReader(caller ContractCaller, log *logger.Logger) *Reader {
	parsed, err := abi.JSON(strings.NewReader(poolReaderABI))
	if err != nil {
		// The ABI is a compile-time constant, failing to parse it is a bug.
		panic(err)
	}

	return &Reader{caller: caller, abi: parsed, log: log}
}

// PoolConfig reads the full pool identity at the given block. All five reads
// must succeed; a pool whose identity cannot be established must not be
// materialized.
func (r *Reader) PoolConfig(ctx context.Context, pool common.Address, blockNumber uint64) (*PoolConfig, error) {
	cfg := &PoolConfig{}

	reads := []struct {
		method string
		out    *common.Address
	}{
		{"getPrincipalTokenAddress", &cfg.PrincipalToken},
		{"getCollateralTokenAddress", &cfg.CollateralToken},
		{"poolSharesToken", &cfg.SharesToken},
		{"TELLER_V2", &cfg.TellerV2},
		{"SMART_COMMITMENT_FORWARDER", &cfg.SmartCommitmentForwarder},
	}

	for _, read := range reads {
		addr, err := r.callAddress(ctx, pool, read.method, blockNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from pool %s: %w", read.method, pool.Hex(), err)
		}
		*read.out = addr
	}

	return cfg, nil
}

// MinInterestRate reads the computed minimum interest rate of the pool for a
// zero principal delta, as of the given block.
func (r *Reader) MinInterestRate(ctx context.Context, pool common.Address, blockNumber uint64) (*big.Int, error) {
	data, err := r.abi.Pack("getMinInterestRate", new(big.Int))
	if err != nil {
		return nil, err
	}

	ret, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, blockArg(blockNumber))
	if err != nil {
		return nil, fmt.Errorf("failed to read getMinInterestRate from pool %s: %w", pool.Hex(), err)
	}

	out, err := r.abi.Unpack("getMinInterestRate", ret)
	if err != nil {
		return nil, err
	}

	rate, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getMinInterestRate return type %T", out[0])
	}

	return rate, nil
}

// LiquidationTokenDifference reads the signed token amount the pool gained
// or lost through liquidations as of the given block. A failed read degrades
// to zero, matching the supplementary nature of the metric.
func (r *Reader) LiquidationTokenDifference(ctx context.Context, pool common.Address, blockNumber uint64) *big.Int {
	data, err := r.abi.Pack("tokenDifferenceFromLiquidations")
	if err != nil {
		return new(big.Int)
	}

	ret, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, blockArg(blockNumber))
	if err != nil {
		r.log.Warnf("failed to read tokenDifferenceFromLiquidations from pool %s, defaulting to 0: %v",
			pool.Hex(), err)
		return new(big.Int)
	}

	out, err := r.abi.Unpack("tokenDifferenceFromLiquidations", ret)
	if err != nil {
		r.log.Warnf("failed to decode tokenDifferenceFromLiquidations from pool %s, defaulting to 0: %v",
			pool.Hex(), err)
		return new(big.Int)
	}

	diff, ok := out[0].(*big.Int)
	if !ok {
		return new(big.Int)
	}

	return diff
}

func (r *Reader) callAddress(ctx context.Context, pool common.Address, method string, blockNumber uint64) (common.Address, error) {
	data, err := r.abi.Pack(method)
	if err != nil {
		return common.Address{}, err
	}

	ret, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, blockArg(blockNumber))
	if err != nil {
		return common.Address{}, err
	}

	out, err := r.abi.Unpack(method, ret)
	if err != nil {
		return common.Address{}, err
	}

	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %s return type %T", method, out[0])
	}

	return addr, nil
}

func blockArg(blockNumber uint64) *big.Int {
	return new(big.Int).SetUint64(blockNumber)
}
