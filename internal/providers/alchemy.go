package providers

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/walletrisk/internal/risk"
)

const KeyAlchemy = "alchemy"

var oneETH = decimal.NewFromInt(1)

// AlchemyTransfer is one row of alchemy_getAssetTransfers.
type AlchemyTransfer struct {
	Hash     string   `json:"hash"`
	Category string   `json:"category"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Value    *float64 `json:"value"`
	Asset    string   `json:"asset"`
}

type assetTransfers struct {
	Transfers []AlchemyTransfer `json:"transfers"`
}

type tokenBalances struct {
	TokenBalances []struct {
		ContractAddress string `json:"contractAddress"`
		TokenBalance    string `json:"tokenBalance"`
	} `json:"tokenBalances"`
}

// AlchemyDetails is the alchemy finding payload.
type AlchemyDetails struct {
	EthBalanceWei    string            `json:"ethBalanceWei"`
	EthBalance       string            `json:"ethBalance"`
	IsContract       bool              `json:"isContract"`
	TransferCount    int               `json:"transferCount"`
	UniqueSenders    int               `json:"uniqueSenders"`
	OutgoingCount    int               `json:"outgoingCount"`
	TokenCount       int               `json:"tokenCount"`
	TransfersPreview []AlchemyTransfer `json:"transfersPreview"`
	Factors          []Factor          `json:"factors,omitempty"`
	Builder          bool              `json:"builder,omitempty"`
}

// Alchemy queries an Alchemy JSON-RPC endpoint. Without a URL it simulates.
type Alchemy struct {
	base
	rpc *rpc.Client
	eth *ethclient.Client
}

// NewAlchemy creates the adapter. An empty rpcURL selects simulated mode.
func NewAlchemy(rpcURL string, deps Deps) (*Alchemy, error) {
	a := &Alchemy{base: newBase(KeyAlchemy, "Alchemy", deps)}
	if rpcURL == "" {
		return a, nil
	}
	c, err := rpc.DialOptions(context.Background(), rpcURL, rpc.WithHTTPClient(a.deps.Client))
	if err != nil {
		return nil, fmt.Errorf("alchemy: dial %w", err)
	}
	a.rpc = c
	a.eth = ethclient.NewClient(c)
	return a, nil
}

func (a *Alchemy) Mode() Mode {
	if a.rpc == nil {
		return ModeSimulated
	}
	return ModeLive
}

// Close releases the RPC client.
func (a *Alchemy) Close() {
	if a.rpc != nil {
		a.rpc.Close()
	}
}

func (a *Alchemy) Analyze(ctx context.Context, addr risk.Address) (*risk.Finding, error) {
	if f, ok := a.precheck(addr); ok {
		return f, nil
	}
	if a.rpc == nil {
		return simulatedExplorer(a.base, addr), nil
	}
	if !common.IsHexAddress(string(addr)) {
		// Nothing to query for a non-EVM identifier; score the empty signal set.
		return a.score(addr, alchemyData{balance: new(big.Int)}), nil
	}

	if !a.deps.Breaker.Allow(a.key) {
		return nil, &risk.UpstreamError{Provider: a.key, Message: "circuit open"}
	}
	ctx, cancel := context.WithTimeout(ctx, a.deps.Timeout)
	defer cancel()

	data, err := a.fetch(ctx, addr)
	if err != nil {
		a.deps.Breaker.RecordFailure(a.key)
		return nil, err
	}
	a.deps.Breaker.RecordSuccess(a.key)
	return a.score(addr, data), nil
}

type alchemyData struct {
	balance  *big.Int
	code     []byte
	incoming []AlchemyTransfer
	outgoing []AlchemyTransfer
	tokens   int
}

// fetch runs the five sub-queries concurrently. Each failure is defaulted;
// only when every one of them fails is the call an upstream error.
func (a *Alchemy) fetch(ctx context.Context, addr risk.Address) (alchemyData, error) {
	account := common.HexToAddress(string(addr))
	data := alchemyData{balance: new(big.Int)}

	var mu sync.Mutex
	var errs []error
	record := func(what string, err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
		a.deps.Logger.Debug("alchemy sub-query defaulted", "query", what, "error", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		bal, err := a.eth.BalanceAt(ctx, account, nil)
		if err != nil {
			record("eth_getBalance", err)
			return nil
		}
		data.balance = bal
		return nil
	})
	g.Go(func() error {
		code, err := a.eth.CodeAt(ctx, account, nil)
		if err != nil {
			record("eth_getCode", err)
			return nil
		}
		data.code = code
		return nil
	})
	g.Go(func() error {
		var res assetTransfers
		err := a.rpc.CallContext(ctx, &res, "alchemy_getAssetTransfers", map[string]any{
			"fromBlock":        "0x0",
			"toBlock":          "latest",
			"toAddress":        string(addr),
			"category":         []string{"external", "internal", "erc20", "erc721", "erc1155"},
			"withMetadata":     false,
			"excludeZeroValue": true,
			"maxCount":         hexutil.EncodeUint64(40),
		})
		if err != nil {
			record("alchemy_getAssetTransfers(incoming)", err)
			return nil
		}
		data.incoming = res.Transfers
		return nil
	})
	g.Go(func() error {
		var res assetTransfers
		err := a.rpc.CallContext(ctx, &res, "alchemy_getAssetTransfers", map[string]any{
			"fromBlock":        "0x0",
			"toBlock":          "latest",
			"fromAddress":      string(addr),
			"category":         []string{"external"},
			"withMetadata":     false,
			"excludeZeroValue": false,
			"maxCount":         hexutil.EncodeUint64(5),
		})
		if err != nil {
			record("alchemy_getAssetTransfers(outgoing)", err)
			return nil
		}
		data.outgoing = res.Transfers
		return nil
	})
	g.Go(func() error {
		var res tokenBalances
		if err := a.rpc.CallContext(ctx, &res, "alchemy_getTokenBalances", string(addr), "erc20"); err != nil {
			record("alchemy_getTokenBalances", err)
			return nil
		}
		for _, t := range res.TokenBalances {
			if nonZeroHex(t.TokenBalance) {
				data.tokens++
			}
		}
		return nil
	})
	_ = g.Wait()

	if len(errs) == 5 {
		return data, rpcUpstreamError(a.key, errs)
	}
	return data, nil
}

func (a *Alchemy) score(addr risk.Address, d alchemyData) *risk.Finding {
	senders := make(map[string]struct{}, len(d.incoming))
	for _, t := range d.incoming {
		senders[risk.NormalizeAddress(t.From).String()] = struct{}{}
	}
	sig := Signals{
		BalanceETH:    decimal.NewFromBigInt(d.balance, -18),
		TransferCount: len(d.incoming),
		UniqueSenders: len(senders),
		IsContract:    len(d.code) > 0,
		TokenCount:    d.tokens,
	}
	details := AlchemyDetails{
		EthBalanceWei:    hexutil.EncodeBig(d.balance),
		EthBalance:       sig.BalanceETH.String(),
		IsContract:       sig.IsContract,
		TransferCount:    sig.TransferCount,
		UniqueSenders:    sig.UniqueSenders,
		OutgoingCount:    len(d.outgoing),
		TokenCount:       sig.TokenCount,
		TransfersPreview: preview(d.incoming, 5),
	}

	f := a.finding(addr)
	// Contracts that send funds and hold more than 1 ETH behave like block
	// builders collecting rewards.
	if sig.IsContract && len(d.outgoing) > 0 && sig.BalanceETH.GreaterThan(oneETH) {
		details.Builder = true
		f.Score = builderScore
		f.Notes = "Block builder pattern detected (contract with outgoing transfers and block rewards)."
	} else {
		f.Score, details.Factors = scoreSignals(sig)
		f.Notes = heuristicNotes("Alchemy", details.Factors)
	}
	f.Details = details
	return f.Finalize()
}

func preview(ts []AlchemyTransfer, n int) []AlchemyTransfer {
	if len(ts) > n {
		ts = ts[:n]
	}
	return append([]AlchemyTransfer{}, ts...)
}

func nonZeroHex(s string) bool {
	v, err := hexutil.DecodeBig(s)
	if err != nil {
		// Alchemy pads balances to 32 bytes, which DecodeBig rejects as
		// leading zeros; fall back to a manual parse.
		n, ok := new(big.Int).SetString(trimHexPrefix(s), 16)
		return ok && n.Sign() > 0
	}
	return v.Sign() > 0
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

// rpcUpstreamError turns the sub-query errors into one upstream error,
// keeping the HTTP status when the transport reported one.
func rpcUpstreamError(provider string, errs []error) error {
	joined := errors.Join(errs...)
	for _, err := range errs {
		var he rpc.HTTPError
		if errors.As(err, &he) {
			return &risk.UpstreamError{Provider: provider, Status: he.StatusCode, Message: string(he.Body), Err: joined}
		}
	}
	if errors.Is(joined, context.DeadlineExceeded) {
		return &risk.UpstreamError{Provider: provider, Message: "timeout", Err: joined}
	}
	return &risk.UpstreamError{Provider: provider, Message: "all queries failed", Err: joined}
}
