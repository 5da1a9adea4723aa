package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/veridia-labs/certledger-backend/pkg/config"
	pkgerrors "github.com/veridia-labs/certledger-backend/pkg/errors"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
)

// Contract call surface exposed by the ledger node. The contract itself is
// pre-deployed; this client only speaks its fixed JSON-RPC methods.
const (
	methodSubmitIssue   = "cert_submitIssue"
	methodSubmitRevoke  = "cert_submitRevoke"
	methodVerify        = "cert_verifyCertificate"
	methodStudentProofs = "cert_getStudentCertificates"
	methodContractInfo  = "cert_getContractInfo"
	methodEstimate      = "cert_estimateCost"
	methodBalance       = "cert_getBalance"
	methodReceipt       = "cert_getTransactionReceipt"
	methodEvents        = "cert_getEvents"
	methodBlockNumber   = "cert_blockNumber"
)

const minSafetyMarginPct = 10

var errClientNotReady = pkgerrors.New(pkgerrors.CodeUnavailable, "ledger gateway not initialized")

// Client submits contract calls over JSON-RPC, bounds their cost, waits for
// inclusion, and answers verification queries. Safe for concurrent use; each
// call is stateless.
type Client struct {
	httpClient      *http.Client
	rpcURL          string
	contractAddress string
	accountAddress  string
	inclusionWindow time.Duration
	receiptPollBase time.Duration
	safetyMarginPct int
	eventLookback   uint64
	eventPoll       time.Duration
	logg            *logger.Logger
	ready           atomic.Bool
}

// NewClient validates configuration and builds the gateway. Call Init before
// issuing state-changing calls; construction alone performs no I/O.
func NewClient(cfg config.LedgerConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("ledger logger is required")
	}
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("ledger RPC URL is required")
	}
	if strings.TrimSpace(cfg.ContractAddress) == "" {
		return nil, errors.New("ledger contract address is required")
	}
	if strings.TrimSpace(cfg.AccountAddress) == "" {
		return nil, errors.New("ledger operating account address is required")
	}

	margin := cfg.SafetyMarginPct
	if margin < minSafetyMarginPct {
		margin = minSafetyMarginPct
	}
	window := cfg.InclusionWindow
	if window <= 0 {
		window = 3 * time.Minute
	}
	pollBase := cfg.ReceiptPollBase
	if pollBase <= 0 {
		pollBase = 2 * time.Second
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	eventPoll := cfg.EventPoll
	if eventPoll <= 0 {
		eventPoll = 5 * time.Second
	}

	return &Client{
		httpClient:      &http.Client{Timeout: timeout},
		rpcURL:          rpcURL,
		contractAddress: strings.TrimSpace(cfg.ContractAddress),
		accountAddress:  strings.TrimSpace(cfg.AccountAddress),
		inclusionWindow: window,
		receiptPollBase: pollBase,
		safetyMarginPct: margin,
		eventLookback:   cfg.EventLookback,
		eventPoll:       eventPoll,
		logg:            logg,
	}, nil
}

// Init probes the contract and marks the gateway ready. Callers receive an
// explicit result instead of discovering a dead connection mid-issuance.
func (c *Client) Init(ctx context.Context) error {
	info, err := c.ContractInfo(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "ledger contract unreachable")
	}
	c.ready.Store(true)
	ctx = c.logg.WithFields(ctx, map[string]any{
		"contract":     c.contractAddress,
		"owner":        info.Owner,
		"total_issued": info.TotalIssued,
	})
	c.logg.Info(ctx, "ledger gateway initialized")
	return nil
}

// Ready reports whether Init completed successfully.
func (c *Client) Ready() bool {
	return c != nil && c.ready.Load()
}

// Ping satisfies the health-check surface.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ContractInfo(ctx)
	return err
}

// SubmitIssue estimates cost, enforces the balance safety margin, and submits
// the issue call. It returns as soon as the node accepts the transaction;
// inclusion is observed separately via WaitForInclusion.
func (c *Client) SubmitIssue(ctx context.Context, params IssueParams) (*PendingTx, error) {
	if !c.Ready() {
		return nil, errClientNotReady
	}
	estimate, err := c.checkFunds(ctx, methodSubmitIssue, params)
	if err != nil {
		return nil, err
	}

	var txID string
	if err := c.call(ctx, methodSubmitIssue, submitEnvelope{
		Contract: c.contractAddress,
		From:     c.accountAddress,
		Nonce:    uuid.NewString(),
		Args:     params,
	}, &txID); err != nil {
		return nil, err
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"tx_id":      txID,
		"gas_units":  estimate.GasUnits,
		"gas_price":  estimate.GasPrice,
		"student_id": params.StudentID,
	})
	c.logg.Info(logCtx, "ledger issue submitted")
	return &PendingTx{TxID: txID, GasPrice: estimate.GasPrice}, nil
}

// SubmitRevoke submits the revoke call for an existing proof.
func (c *Client) SubmitRevoke(ctx context.Context, proofHash string) (*PendingTx, error) {
	if !c.Ready() {
		return nil, errClientNotReady
	}
	args := map[string]string{"proofHash": proofHash}
	estimate, err := c.checkFunds(ctx, methodSubmitRevoke, args)
	if err != nil {
		return nil, err
	}

	var txID string
	if err := c.call(ctx, methodSubmitRevoke, submitEnvelope{
		Contract: c.contractAddress,
		From:     c.accountAddress,
		Nonce:    uuid.NewString(),
		Args:     args,
	}, &txID); err != nil {
		return nil, err
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{"tx_id": txID, "proof_hash": proofHash})
	c.logg.Info(logCtx, "ledger revoke submitted")
	return &PendingTx{TxID: txID, GasPrice: estimate.GasPrice}, nil
}

// WaitForInclusion polls for the transaction receipt until the inclusion
// window elapses. A reverted call maps to LEDGER_REJECTED, an elapsed window
// to LEDGER_TIMEOUT. Canceling ctx abandons the wait, not the transaction.
func (c *Client) WaitForInclusion(ctx context.Context, txID string) (*Receipt, error) {
	if !c.Ready() {
		return nil, errClientNotReady
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.inclusionWindow)
	defer cancel()

	var receipt *Receipt
	backoff := retry.WithJitterPercent(10, retry.NewConstant(c.receiptPollBase))
	err := retry.Do(waitCtx, backoff, func(ctx context.Context) error {
		found, err := c.Receipt(ctx, txID)
		if err != nil {
			// Node hiccups should not abort the wait; the window bounds us.
			return retry.RetryableError(err)
		}
		if found == nil {
			return retry.RetryableError(fmt.Errorf("transaction %s not yet included", txID))
		}
		receipt = found
		return nil
	})
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeLedgerTimeout, err,
				fmt.Sprintf("transaction %s not included within %s", txID, c.inclusionWindow))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "wait for inclusion")
	}

	if receipt.Status == ReceiptStatusReverted {
		return nil, pkgerrors.New(pkgerrors.CodeLedgerRejected,
			fmt.Sprintf("transaction %s reverted in block %d", txID, receipt.BlockNumber))
	}
	return receipt, nil
}

// Receipt fetches the receipt for a transaction, nil when not yet included.
func (c *Client) Receipt(ctx context.Context, txID string) (*Receipt, error) {
	var receipt *Receipt
	if err := c.call(ctx, methodReceipt, map[string]string{"txId": txID}, &receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// Verify returns the validity flag and canonical record for a proof hash.
// Unknown proofs are a negative result, not an error.
func (c *Client) Verify(ctx context.Context, proofHash string) (*Verification, error) {
	var result struct {
		IsValid bool         `json:"isValid"`
		Record  *ProofRecord `json:"record"`
	}
	if err := c.call(ctx, methodVerify, map[string]string{"proofHash": proofHash}, &result); err != nil {
		return nil, err
	}
	return &Verification{Valid: result.IsValid, Record: result.Record}, nil
}

// StudentProofs lists the proof hashes the contract holds for a student.
func (c *Client) StudentProofs(ctx context.Context, studentID string) ([]string, error) {
	var hashes []string
	if err := c.call(ctx, methodStudentProofs, map[string]string{"studentId": studentID}, &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}

// ContractInfo returns the contract owner and total issued count.
func (c *Client) ContractInfo(ctx context.Context) (*ContractInfo, error) {
	var info ContractInfo
	if err := c.call(ctx, methodContractInfo, map[string]string{"contract": c.contractAddress}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// BlockNumber reports the node's current head block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	if err := c.call(ctx, methodBlockNumber, struct{}{}, &head); err != nil {
		return 0, err
	}
	return head, nil
}

// checkFunds estimates the call and rejects when the operating account cannot
// cover the estimate plus the safety margin.
func (c *Client) checkFunds(ctx context.Context, method string, args any) (*CostEstimate, error) {
	var estimate CostEstimate
	if err := c.call(ctx, methodEstimate, submitEnvelope{
		Contract: c.contractAddress,
		From:     c.accountAddress,
		Method:   method,
		Args:     args,
	}, &estimate); err != nil {
		return nil, err
	}

	var balanceRaw string
	if err := c.call(ctx, methodBalance, map[string]string{"account": c.accountAddress}, &balanceRaw); err != nil {
		return nil, err
	}

	gasPrice, err := decimal.NewFromString(estimate.GasPrice)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse gas price")
	}
	balance, err := decimal.NewFromString(balanceRaw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse account balance")
	}

	cost := gasPrice.Mul(decimal.NewFromUint64(estimate.GasUnits))
	margin := decimal.NewFromInt(int64(100 + c.safetyMarginPct)).Div(decimal.NewFromInt(100))
	required := cost.Mul(margin)

	if balance.LessThan(required) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds,
			"operating account balance below required margin").WithDetails(map[string]any{
			"balance":    balance.String(),
			"required":   required.String(),
			"margin_pct": c.safetyMarginPct,
		})
	}
	return &estimate, nil
}

type submitEnvelope struct {
	Contract string `json:"contract"`
	From     string `json:"from"`
	Method   string `json:"method,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	Args     any    `json:"args"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// JSON-RPC error codes the node uses for contract-level failures.
const (
	rpcCodeReverted          = -32050
	rpcCodeInsufficientFunds = -32051
)

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("ledger rpc %s", method))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read rpc response")
	}
	if resp.StatusCode != http.StatusOK {
		return pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("ledger rpc %s returned status %d", method, resp.StatusCode))
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode rpc response")
	}
	if envelope.Error != nil {
		return c.mapRPCError(envelope.Error, method)
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode %s result", method))
	}
	return nil
}

func (c *Client) mapRPCError(rpcErr *rpcError, method string) error {
	switch rpcErr.Code {
	case rpcCodeReverted:
		return pkgerrors.Wrap(pkgerrors.CodeLedgerRejected, rpcErr, fmt.Sprintf("%s reverted", method))
	case rpcCodeInsufficientFunds:
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientFunds, rpcErr, fmt.Sprintf("%s rejected for funds", method))
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, rpcErr, fmt.Sprintf("ledger rpc %s failed", method))
	}
}
