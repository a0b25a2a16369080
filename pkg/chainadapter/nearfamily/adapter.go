// Package nearfamily implements the NEAR-family chain adapter (C2, spec
// §4.8): minting/burning the bridged asset via the bridge account's
// function-call interface, confirmation-depth polling over JSON-RPC.
//
// Grounded on the *shape* of the teacher's pkg/accumulate.Client interface
// (a single canonical client interface: context-first methods, an explicit
// Health/Close lifecycle) — not on its transport, since that interface is
// implemented against the Accumulate lite-client SDK which this module does
// not depend on (see DESIGN.md). Here the same shape is implemented directly
// against a NEAR-style JSON-RPC endpoint using net/http, following the same
// HTTP client idiom as pkg/batch/peer_manager.go.
package nearfamily

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/certen/quantum-bridge/pkg/chainadapter"
)

// Config carries adapter construction parameters.
type Config struct {
	RPCURL            string
	NetworkID         string
	BridgeAccountID   string
	SignerKeyPath     string
	ConfirmationDepth int64
	RequestTimeout    time.Duration
}

// Adapter implements chainadapter.Adapter for a NEAR-family chain.
type Adapter struct {
	httpClient        *http.Client
	rpcURL            string
	bridgeAccountID   string
	confirmationDepth int64

	idemMu sync.Mutex
	idem   map[string]string
}

// New builds a NEAR-family adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("nearfamily: RPC URL required")
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	depth := cfg.ConfirmationDepth
	if depth == 0 {
		depth = 3 // spec §9 Open Questions: NEAR-family fixed at 3
	}
	return &Adapter{
		httpClient:        &http.Client{Timeout: timeout},
		rpcURL:            cfg.RPCURL,
		bridgeAccountID:   cfg.BridgeAccountID,
		confirmationDepth: depth,
		idem:              make(map[string]string),
	}, nil
}

func (a *Adapter) ChainID() string          { return "near-family" }
func (a *Adapter) ConfirmationDepth() int64 { return a.confirmationDepth }

// rpcRequest/rpcResponse mirror the standard JSON-RPC 2.0 envelope NEAR-style
// chains use for both submission and query methods.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (a *Adapter) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "bridge", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("nearfamily: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("nearfamily: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", chainadapter.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", chainadapter.ErrTransient, err)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("%w: decoding body: %v", chainadapter.ErrTransient, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%w: rpc error %d: %s", chainadapter.ErrTerminal, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("%w: decoding result: %v", chainadapter.ErrTransient, err)
		}
	}
	return nil
}

func idemKey(swapID, step string) string { return swapID + "/" + step }

type sendTxParams struct {
	SignerID   string `json:"signer_id"`
	ReceiverID string `json:"receiver_id"`
	Method     string `json:"method"`
	Args       struct {
		SwapID    string `json:"swap_id"`
		Recipient string `json:"recipient"`
		Asset     string `json:"asset"`
		Amount    string `json:"amount"`
		Nonce     string `json:"nonce"`
	} `json:"args"`
}

type sendTxResult struct {
	TransactionHash string `json:"transaction_hash"`
}

// Submit mints or burns the bridged asset depending on req.Step ("mint" or
// "burn"). Idempotent per (SwapID, Step), mirroring the EVM adapter.
func (a *Adapter) Submit(ctx context.Context, req chainadapter.SubmitRequest) (chainadapter.SubmitResult, error) {
	key := idemKey(req.SwapID.String(), req.Step)

	a.idemMu.Lock()
	if existing, ok := a.idem[key]; ok {
		a.idemMu.Unlock()
		return chainadapter.SubmitResult{TxRef: existing, Outcome: chainadapter.OutcomePending}, nil
	}
	a.idemMu.Unlock()

	if req.Step != "mint" && req.Step != "burn" {
		return chainadapter.SubmitResult{}, fmt.Errorf("%w: unknown step %q", chainadapter.ErrTerminal, req.Step)
	}

	params := sendTxParams{SignerID: a.bridgeAccountID, ReceiverID: a.bridgeAccountID, Method: req.Step}
	params.Args.SwapID = req.SwapID.String()
	params.Args.Recipient = req.RecipientAddr
	params.Args.Asset = req.Asset
	params.Args.Amount = req.Amount
	params.Args.Nonce = fmt.Sprintf("%x", req.Nonce)

	var result sendTxResult
	if err := a.call(ctx, "broadcast_tx_commit", params, &result); err != nil {
		return chainadapter.SubmitResult{}, err
	}

	a.idemMu.Lock()
	a.idem[key] = result.TransactionHash
	a.idemMu.Unlock()

	return chainadapter.SubmitResult{TxRef: result.TransactionHash, Outcome: chainadapter.OutcomePending}, nil
}

type txStatusResult struct {
	Status struct {
		SuccessValue *string `json:"SuccessValue"`
		Failure      *struct {
			ActionError interface{} `json:"ActionError"`
		} `json:"Failure"`
	} `json:"status"`
	Transaction struct {
		Actions []struct {
			FunctionCall struct {
				MethodName string `json:"method_name"`
				Args       string `json:"args"` // base64-encoded JSON
			} `json:"FunctionCall"`
		} `json:"actions"`
	} `json:"transaction"`
	TransactionOutcome struct {
		BlockHash string `json:"block_hash"`
	} `json:"transaction_outcome"`
}

// callEvidence decodes the mint/burn function-call args so the engine can
// compare recipient/amount against the swap's expected values (spec §7
// "Consistency"). Returns zero values, not an error, when the transaction
// carries no decodable function-call action (nothing to check).
func callEvidence(status txStatusResult) (recipient string, amount string) {
	for _, action := range status.Transaction.Actions {
		fc := action.FunctionCall
		if fc.MethodName != "mint" && fc.MethodName != "burn" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(fc.Args)
		if err != nil {
			continue
		}
		var args struct {
			Recipient string `json:"recipient"`
			Amount    string `json:"amount"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			continue
		}
		return args.Recipient, args.Amount
	}
	return "", ""
}

type blockResult struct {
	Header struct {
		Height uint64 `json:"height"`
	} `json:"header"`
}

// Confirm checks transaction status and compares block heights to derive
// confirmation depth.
func (a *Adapter) Confirm(ctx context.Context, txRef string) (chainadapter.ConfirmResult, error) {
	var status txStatusResult
	if err := a.call(ctx, "tx", []string{txRef, a.bridgeAccountID}, &status); err != nil {
		return chainadapter.ConfirmResult{}, err
	}
	if status.Status.Failure != nil {
		return chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeReverted}, nil
	}
	if status.Status.SuccessValue == nil {
		return chainadapter.ConfirmResult{Outcome: chainadapter.OutcomePending}, nil
	}

	var txBlock blockResult
	if err := a.call(ctx, "block", map[string]string{"block_id": status.TransactionOutcome.BlockHash}, &txBlock); err != nil {
		return chainadapter.ConfirmResult{}, err
	}

	var head blockResult
	if err := a.call(ctx, "block", map[string]string{"finality": "final"}, &head); err != nil {
		return chainadapter.ConfirmResult{}, err
	}

	recipient, amount := callEvidence(status)

	depth := int64(head.Header.Height) - int64(txBlock.Header.Height)
	if depth < a.confirmationDepth {
		return chainadapter.ConfirmResult{Outcome: chainadapter.OutcomePending, Depth: depth, Recipient: recipient, Amount: amount}, nil
	}
	return chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeConfirmed, Depth: depth, Recipient: recipient, Amount: amount}, nil
}
