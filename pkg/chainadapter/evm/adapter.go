// Package evm implements the EVM-chain adapter (C1, spec §4.8): locking and
// unlocking the bridge's escrow contract, confirmation-depth polling, and
// idempotent submission. Adapted from the teacher's pkg/ethereum/client.go,
// generalized from a generic contract caller into the bridge's lock/unlock
// step semantics.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/quantum-bridge/pkg/chainadapter"
)

// bridgeABI is the minimal escrow-contract interface the bridge calls:
// lock(bytes32 swapId, address recipient, uint256 amount, bytes32 nonce) and
// unlock(bytes32 swapId) for the compensating path (spec §4.8, §4.5
// Refunding).
const bridgeABI = `[
  {"type":"function","name":"lock","inputs":[{"name":"swapId","type":"bytes32"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"},{"name":"nonce","type":"bytes32"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"unlock","inputs":[{"name":"swapId","type":"bytes32"}],"outputs":[],"stateMutability":"nonpayable"}
]`

// Adapter implements chainadapter.Adapter for an EVM chain.
type Adapter struct {
	client          *ethclient.Client
	chainID         *big.Int
	contractAddr    common.Address
	contractABI     abi.ABI
	privateKey      *ecdsa.PrivateKey
	confirmationDepth int64

	// idempotency memoizes (swapID, step) -> tx hash so re-submission of an
	// already-submitted step never re-executes on-chain (spec §8 property 6).
	idemMu sync.Mutex
	idem   map[string]string
}

// Config carries adapter construction parameters.
type Config struct {
	RPCURL            string
	ChainID           int64
	ContractAddress   string
	PrivateKeyHex     string
	ConfirmationDepth int64
}

// New dials the RPC endpoint and parses the bridge contract ABI.
func New(cfg Config) (*Adapter, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: failed to connect: %w", err)
	}
	parsedABI, err := abi.JSON(strings.NewReader(bridgeABI))
	if err != nil {
		return nil, fmt.Errorf("evm: failed to parse bridge ABI: %w", err)
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("evm: failed to parse signer key: %w", err)
	}
	depth := cfg.ConfirmationDepth
	if depth == 0 {
		depth = 12 // spec §9 Open Questions: EVM fixed at 12
	}
	return &Adapter{
		client:            client,
		chainID:           big.NewInt(cfg.ChainID),
		contractAddr:      common.HexToAddress(cfg.ContractAddress),
		contractABI:       parsedABI,
		privateKey:        privateKey,
		confirmationDepth: depth,
		idem:              make(map[string]string),
	}, nil
}

func (a *Adapter) ChainID() string             { return "evm" }
func (a *Adapter) ConfirmationDepth() int64    { return a.confirmationDepth }

func idemKey(swapID, step string) string { return swapID + "/" + step }

// Submit locks or unlocks funds depending on req.Step ("lock" or "unlock").
// Idempotent: a repeated call with the same (SwapID, Step) returns the
// already-recorded tx hash without resubmitting.
func (a *Adapter) Submit(ctx context.Context, req chainadapter.SubmitRequest) (chainadapter.SubmitResult, error) {
	key := idemKey(req.SwapID.String(), req.Step)

	a.idemMu.Lock()
	if existing, ok := a.idem[key]; ok {
		a.idemMu.Unlock()
		return chainadapter.SubmitResult{TxRef: existing, Outcome: chainadapter.OutcomePending}, nil
	}
	a.idemMu.Unlock()

	var callData []byte
	var err error
	swapIDBytes := swapIDToBytes32(req.SwapID.String())

	switch req.Step {
	case "lock":
		amount, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok {
			return chainadapter.SubmitResult{}, fmt.Errorf("%w: invalid amount %q", chainadapter.ErrTerminal, req.Amount)
		}
		nonceBytes := toBytes32(req.Nonce)
		callData, err = a.contractABI.Pack("lock", swapIDBytes, common.HexToAddress(req.RecipientAddr), amount, nonceBytes)
	case "unlock":
		callData, err = a.contractABI.Pack("unlock", swapIDBytes)
	default:
		return chainadapter.SubmitResult{}, fmt.Errorf("%w: unknown step %q", chainadapter.ErrTerminal, req.Step)
	}
	if err != nil {
		return chainadapter.SubmitResult{}, fmt.Errorf("%w: pack %s: %v", chainadapter.ErrTerminal, req.Step, err)
	}

	publicKeyECDSA := a.privateKey.Public().(*ecdsa.PublicKey)
	fromAddress := crypto.PubkeyToAddress(*publicKeyECDSA)

	nonce, err := a.client.PendingNonceAt(ctx, fromAddress)
	if err != nil {
		return chainadapter.SubmitResult{}, fmt.Errorf("%w: nonce: %v", chainadapter.ErrTransient, err)
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return chainadapter.SubmitResult{}, fmt.Errorf("%w: gas price: %v", chainadapter.ErrTransient, err)
	}

	tx := types.NewTransaction(nonce, a.contractAddr, big.NewInt(0), 300000, gasPrice, callData)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(a.chainID), a.privateKey)
	if err != nil {
		return chainadapter.SubmitResult{}, fmt.Errorf("%w: sign: %v", chainadapter.ErrTerminal, err)
	}

	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return chainadapter.SubmitResult{}, fmt.Errorf("%w: send: %v", chainadapter.ErrTransient, err)
	}

	txRef := signedTx.Hash().Hex()
	a.idemMu.Lock()
	a.idem[key] = txRef
	a.idemMu.Unlock()

	return chainadapter.SubmitResult{TxRef: txRef, Outcome: chainadapter.OutcomePending}, nil
}

// Confirm checks whether txRef has reached the configured confirmation
// depth. A receipt that cannot be found (not yet mined, or dropped by a
// reorg) reports Pending; Confirm does not set Reorg.
func (a *Adapter) Confirm(ctx context.Context, txRef string) (chainadapter.ConfirmResult, error) {
	hash := common.HexToHash(txRef)
	receipt, err := a.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if err == ethereum.NotFound {
			return chainadapter.ConfirmResult{Outcome: chainadapter.OutcomePending}, nil
		}
		return chainadapter.ConfirmResult{}, fmt.Errorf("%w: receipt: %v", chainadapter.ErrTransient, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeReverted}, nil
	}

	head, err := a.client.BlockNumber(ctx)
	if err != nil {
		return chainadapter.ConfirmResult{}, fmt.Errorf("%w: block number: %v", chainadapter.ErrTransient, err)
	}

	recipient, amount, err := a.decodeLockEvidence(ctx, hash)
	if err != nil {
		return chainadapter.ConfirmResult{}, fmt.Errorf("%w: decode call evidence: %v", chainadapter.ErrTransient, err)
	}

	depth := int64(head) - int64(receipt.BlockNumber.Uint64())
	if depth < a.confirmationDepth {
		return chainadapter.ConfirmResult{Outcome: chainadapter.OutcomePending, Depth: depth, Recipient: recipient, Amount: amount}, nil
	}
	return chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeConfirmed, Depth: depth, Recipient: recipient, Amount: amount}, nil
}

// decodeLockEvidence re-fetches the confirmed transaction and, if its call
// data is a "lock" call, decodes the recipient/amount arguments so the
// engine can compare them against the swap's expected values (spec §7
// "Consistency"). unlock (the refund compensating call) carries neither
// argument, so both returns are empty for it — that's not an error.
func (a *Adapter) decodeLockEvidence(ctx context.Context, hash common.Hash) (recipient string, amount string, err error) {
	tx, _, err := a.client.TransactionByHash(ctx, hash)
	if err != nil {
		return "", "", err
	}
	data := tx.Data()
	if len(data) < 4 {
		return "", "", nil
	}
	method, err := a.contractABI.MethodById(data[:4])
	if err != nil || method.Name != "lock" {
		return "", "", nil
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", "", err
	}
	// lock(bytes32 swapId, address recipient, uint256 amount, bytes32 nonce)
	recipientAddr, ok := args[1].(common.Address)
	if !ok {
		return "", "", nil
	}
	amountBig, ok := args[2].(*big.Int)
	if !ok {
		return "", "", nil
	}
	return strings.ToLower(recipientAddr.Hex()), amountBig.String(), nil
}

func swapIDToBytes32(swapID string) [32]byte {
	var out [32]byte
	copy(out[:], []byte(swapID))
	return out
}

func toBytes32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}
