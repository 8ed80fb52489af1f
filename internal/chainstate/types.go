package chainstate

import "encoding/json"

// JSON-RPC request/response types

type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// JSONRPCCode lets the retry classifier read the code without importing
// this package.
func (e *RPCError) JSONRPCCode() int {
	return e.Code
}

// Account is one fetched chain account. Exists is false when the address
// currently holds no account (never created, or closed and reclaimed).
type Account struct {
	Data     []byte
	Owner    string
	Lamports uint64
	Exists   bool
}

// getMultipleAccounts wire shapes. Value entries are positional and may be
// null for absent accounts.

type multipleAccountsResult struct {
	Value []*accountValue `json:"value"`
}

type accountValue struct {
	Data     []string `json:"data"`
	Owner    string   `json:"owner"`
	Lamports uint64   `json:"lamports"`
}
