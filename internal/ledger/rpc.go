package ledger

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"ticket-ledger/models"
)

const (
	methodBlockNumber = "ledger_blockNumber"
	methodGetRecords  = "ledger_getRecords"
	methodSetStatus   = "ledger_setStatus"
)

// JSON-RPC 2.0 error codes. codeProgramError carries the rejection code in
// the error data.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeProgramError   = -32000
	codeUnauthorized   = -32001
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type recordsParams struct {
	Address   string `json:"address"`
	FromBlock uint64 `json:"fromBlock"`
	ToBlock   uint64 `json:"toBlock"`
}

type setStatusParams struct {
	Caller  string             `json:"caller"`
	Program string             `json:"program"`
	TokenID uint64             `json:"tokenId"`
	Status  models.TokenStatus `json:"status"`
}

// RPCClient talks to a ledger node over JSON-RPC 2.0.
type RPCClient struct {
	url         string
	credentials string
	httpClient  *http.Client
	nextID      atomic.Uint64
}

// NewRPCClient returns a client for the node at url. credentials, when set,
// is sent as a bearer token.
func NewRPCClient(url, credentials string) *RPCClient {
	return &RPCClient{
		url:         url,
		credentials: credentials,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *RPCClient) LatestBlock(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, methodBlockNumber, nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

func (c *RPCClient) Records(ctx context.Context, address string, from, to uint64) ([]RawRecord, error) {
	var out []RawRecord
	params := recordsParams{Address: NormalizeAddress(address), FromBlock: from, ToBlock: to}
	if err := c.call(ctx, methodGetRecords, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RPCClient) SetStatus(ctx context.Context, caller, program string, tokenID uint64, to models.TokenStatus) error {
	params := setStatusParams{Caller: caller, Program: program, TokenID: tokenID, Status: to}
	return c.call(ctx, methodSetStatus, params, nil)
}

func (c *RPCClient) call(ctx context.Context, method string, params any, result any) error {
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%s: encode params: %w", method, err)
		}
		req.Params = raw
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.credentials != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.credentials)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: node returned %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == codeProgramError {
			if sentinel, ok := errorCodes[rpcResp.Error.Data]; ok {
				return reject(method, 0, sentinel)
			}
		}
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if result == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// RPCHandler serves a Chain with the methods RPCClient speaks.
type RPCHandler struct {
	chain       *Chain
	credentials string
}

func NewRPCHandler(chain *Chain, credentials string) *RPCHandler {
	return &RPCHandler{chain: chain, credentials: credentials}
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeRPC(w, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "parse error"}})
		return
	}
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	if !h.authorized(r) {
		resp.Error = &rpcError{Code: codeUnauthorized, Message: "unauthorized"}
		writeRPC(w, resp)
		return
	}
	if req.JSONRPC != "2.0" {
		resp.Error = &rpcError{Code: codeInvalidRequest, Message: "jsonrpc must be 2.0"}
		writeRPC(w, resp)
		return
	}

	result, rpcErr := h.dispatch(r.Context(), req)
	if rpcErr != nil {
		resp.Error = rpcErr
	} else if raw, err := json.Marshal(result); err != nil {
		resp.Error = &rpcError{Code: codeInternalError, Message: err.Error()}
	} else {
		resp.Result = raw
	}
	writeRPC(w, resp)
}

func (h *RPCHandler) authorized(r *http.Request) bool {
	if h.credentials == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(h.credentials)) == 1
}

func (h *RPCHandler) dispatch(ctx context.Context, req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case methodBlockNumber:
		height, err := h.chain.LatestBlock(ctx)
		if err != nil {
			return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
		}
		return height, nil

	case methodGetRecords:
		var p recordsParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		recs, err := h.chain.Records(ctx, p.Address, p.FromBlock, p.ToBlock)
		if err != nil {
			return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
		}
		if recs == nil {
			recs = []RawRecord{}
		}
		return recs, nil

	case methodSetStatus:
		var p setStatusParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		if err := h.chain.SetStatus(ctx, p.Caller, p.Program, p.TokenID, p.Status); err != nil {
			if code := errorCode(err); code != "" && IsProgramError(err) {
				return nil, &rpcError{Code: codeProgramError, Message: err.Error(), Data: code}
			}
			return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
		}
		return true, nil
	}

	return nil, &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

var (
	_ Reader = (*RPCClient)(nil)
	_ Writer = (*RPCClient)(nil)
)
