package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrChainVerificationFailed marks transactions that are missing, reverted,
// or paid to the wrong recipient. Callers treat it as a client error and
// leave the order untouched.
var ErrChainVerificationFailed = errors.New("payments: chain verification failed")

// ChainReceipt is the normalised result of an on-chain transaction lookup.
type ChainReceipt struct {
	TransactionHash string
	BlockNumber     uint64
	Confirmations   uint64
	Recipient       string
}

// ChainVerifier checks an on-chain payment transaction.
type ChainVerifier interface {
	VerifyTransaction(ctx context.Context, txHash string) (ChainReceipt, error)
}

// RPCVerifierConfig configures the JSON-RPC backed verifier.
type RPCVerifierConfig struct {
	// Endpoint is the Ethereum JSON-RPC URL.
	Endpoint string
	// Recipient is the merchant wallet payments must be sent to.
	Recipient string
	// HTTPClient overrides the default bounded-timeout client.
	HTTPClient *http.Client
}

// RPCVerifier verifies transactions against an Ethereum JSON-RPC node.
type RPCVerifier struct {
	endpoint  string
	recipient string
	client    *http.Client
}

// NewRPCVerifier builds a verifier for the given node and merchant wallet.
func NewRPCVerifier(cfg RPCVerifierConfig) (*RPCVerifier, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("payments: rpc endpoint is required")
	}
	recipient := strings.ToLower(strings.TrimSpace(cfg.Recipient))
	if recipient == "" {
		return nil, errors.New("payments: recipient wallet is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RPCVerifier{
		endpoint:  endpoint,
		recipient: recipient,
		client:    client,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type transactionReceipt struct {
	Status      string `json:"status"`
	To          string `json:"to"`
	BlockNumber string `json:"blockNumber"`
}

// VerifyTransaction requires a successful receipt addressed to the configured
// recipient and reports confirmations relative to the node's head block.
func (v *RPCVerifier) VerifyTransaction(ctx context.Context, txHash string) (ChainReceipt, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return ChainReceipt{}, fmt.Errorf("%w: transaction hash is required", ErrChainVerificationFailed)
	}

	var receipt transactionReceipt
	found, err := v.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &receipt)
	if err != nil {
		return ChainReceipt{}, err
	}
	if !found {
		return ChainReceipt{}, fmt.Errorf("%w: transaction not found", ErrChainVerificationFailed)
	}
	if receipt.Status != "0x1" {
		return ChainReceipt{}, fmt.Errorf("%w: transaction reverted", ErrChainVerificationFailed)
	}
	if !strings.EqualFold(receipt.To, v.recipient) {
		return ChainReceipt{}, fmt.Errorf("%w: unexpected recipient", ErrChainVerificationFailed)
	}

	blockNumber, err := parseHexUint(receipt.BlockNumber)
	if err != nil {
		return ChainReceipt{}, fmt.Errorf("payments: parse block number: %w", err)
	}

	var headHex string
	if _, err := v.call(ctx, "eth_blockNumber", []any{}, &headHex); err != nil {
		return ChainReceipt{}, err
	}
	head, err := parseHexUint(headHex)
	if err != nil {
		return ChainReceipt{}, fmt.Errorf("payments: parse head block: %w", err)
	}

	confirmations := uint64(0)
	if head >= blockNumber {
		confirmations = head - blockNumber + 1
	}

	return ChainReceipt{
		TransactionHash: txHash,
		BlockNumber:     blockNumber,
		Confirmations:   confirmations,
		Recipient:       strings.ToLower(receipt.To),
	}, nil
}

// call performs one JSON-RPC request. The boolean reports whether the result
// was non-null.
func (v *RPCVerifier) call(ctx context.Context, method string, params []any, out any) (bool, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return false, fmt.Errorf("payments: encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("payments: build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("payments: rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("payments: rpc call %s: unexpected status %d", method, resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return false, fmt.Errorf("payments: decode rpc response: %w", err)
	}
	if envelope.Error != nil {
		return false, fmt.Errorf("payments: rpc call %s: %s (%d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	if len(envelope.Result) == 0 || bytes.Equal(envelope.Result, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return false, fmt.Errorf("payments: decode rpc result: %w", err)
	}
	return true, nil
}

func parseHexUint(value string) (uint64, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if value == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(value, 16, 64)
}

// StubVerifier approves every transaction after a configurable delay. It
// exists for environments without chain access and must never be wired in
// production.
type StubVerifier struct {
	Delay func(ctx context.Context) error
}

// NewStubVerifier builds a stub that simulates lookup latency.
func NewStubVerifier(delay time.Duration) *StubVerifier {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &StubVerifier{
		Delay: func(ctx context.Context) error {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

func (v *StubVerifier) VerifyTransaction(ctx context.Context, txHash string) (ChainReceipt, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return ChainReceipt{}, fmt.Errorf("%w: transaction hash is required", ErrChainVerificationFailed)
	}
	if v.Delay != nil {
		if err := v.Delay(ctx); err != nil {
			return ChainReceipt{}, err
		}
	}
	return ChainReceipt{
		TransactionHash: txHash,
		Confirmations:   1,
	}, nil
}

var (
	_ ChainVerifier = (*RPCVerifier)(nil)
	_ ChainVerifier = (*StubVerifier)(nil)
)
