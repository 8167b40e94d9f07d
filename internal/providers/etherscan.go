package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/walletrisk/internal/risk"
)

const KeyEtherscan = "etherscan"

// etherscanPage bounds each transaction list query.
const etherscanPage = 100

// EtherscanDetails is the etherscan finding payload.
type EtherscanDetails struct {
	Balance              string     `json:"balance"`
	IsContract           bool       `json:"isContract"`
	TotalTransactions    int        `json:"totalTransactions"`
	NormalTransactions   int        `json:"normalTransactions"`
	InternalTransactions int        `json:"internalTransactions"`
	TokenTransactions    int        `json:"tokenTransactions"`
	UniqueSenders        int        `json:"uniqueSenders"`
	TokenCount           int        `json:"tokenCount"`
	Categories           []string   `json:"categories"`
	Exposure             []Exposure `json:"exposure"`
	RiskFactors          []Factor   `json:"riskFactors,omitempty"`
}

type etherscanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type etherscanTx struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
}

// Etherscan queries the Etherscan REST API. Without an API key it simulates.
type Etherscan struct {
	base
	endpoint string
	apiKey   string
	chainID  int64
	http     upstream
}

// NewEtherscan creates the adapter.
func NewEtherscan(endpoint, apiKey string, chainID int64, deps Deps) *Etherscan {
	e := &Etherscan{
		base:     newBase(KeyEtherscan, "Etherscan", deps),
		endpoint: endpoint,
		apiKey:   apiKey,
		chainID:  chainID,
	}
	e.http = upstream{provider: KeyEtherscan, deps: e.deps}
	return e
}

func (e *Etherscan) Mode() Mode {
	if e.apiKey == "" || e.endpoint == "" {
		return ModeSimulated
	}
	return ModeLive
}

func (e *Etherscan) Analyze(ctx context.Context, addr risk.Address) (*risk.Finding, error) {
	if f, ok := e.precheck(addr); ok {
		return f, nil
	}
	if e.Mode() == ModeSimulated {
		return simulatedExplorer(e.base, addr), nil
	}

	var (
		balance                   string
		code                      string
		normal, internal, tokenTx []etherscanTx
		mu                        sync.Mutex
		errs                      []error
	)
	record := func(what string, err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
		e.deps.Logger.Debug("etherscan sub-query defaulted", "query", what, "error", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		var s string
		if err := e.call(ctx, "account", "balance", addr, nil, &s); err != nil {
			record("balance", err)
			return nil
		}
		balance = s
		return nil
	})
	for _, q := range []struct {
		action string
		out    *[]etherscanTx
	}{
		{"txlist", &normal},
		{"txlistinternal", &internal},
		{"tokentx", &tokenTx},
	} {
		g.Go(func() error {
			var txs []etherscanTx
			if err := e.call(ctx, "account", q.action, addr, pageParams(), &txs); err != nil {
				record(q.action, err)
				return nil
			}
			*q.out = txs
			return nil
		})
	}
	g.Go(func() error {
		var s string
		if err := e.call(ctx, "proxy", "eth_getCode", addr, url.Values{"tag": {"latest"}}, &s); err != nil {
			record("eth_getCode", err)
			return nil
		}
		code = s
		return nil
	})
	_ = g.Wait()

	if len(errs) == 5 {
		return nil, firstUpstreamError(e.key, errs)
	}
	return e.score(addr, balance, code, normal, internal, tokenTx), nil
}

func pageParams() url.Values {
	return url.Values{
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"page":       {"1"},
		"offset":     {strconv.Itoa(etherscanPage)},
		"sort":       {"desc"},
	}
}

// call performs one API request and decodes its result into out. Account
// endpoints report "No transactions found" as status 0 with an empty list,
// which is not an error.
func (e *Etherscan) call(ctx context.Context, module, action string, addr risk.Address, extra url.Values, out any) error {
	q := url.Values{
		"chainid": {strconv.FormatInt(e.chainID, 10)},
		"module":  {module},
		"action":  {action},
		"address": {string(addr)},
		"apikey":  {e.apiKey},
	}
	if module == "account" && action == "balance" {
		q.Set("tag", "latest")
	}
	for k, v := range extra {
		q[k] = v
	}

	var env etherscanEnvelope
	if err := e.http.getJSON(ctx, e.endpoint, q, &env); err != nil {
		return err
	}
	if env.Status == "0" {
		if strings.HasPrefix(env.Message, "No transactions found") {
			return nil
		}
		var msg string
		if json.Unmarshal(env.Result, &msg) != nil || msg == "" {
			msg = env.Message
		}
		return &risk.UpstreamError{Provider: e.key, Message: msg}
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &risk.UpstreamError{Provider: e.key, Message: "malformed " + action + " result", Err: err}
	}
	return nil
}

func (e *Etherscan) score(addr risk.Address, balanceWei, code string, normal, internal, tokenTx []etherscanTx) *risk.Finding {
	senders := make(map[string]struct{})
	for _, list := range [][]etherscanTx{normal, internal, tokenTx} {
		for _, tx := range list {
			if risk.NormalizeAddress(tx.To) == addr && tx.From != "" {
				senders[strings.ToLower(tx.From)] = struct{}{}
			}
		}
	}
	tokens := make(map[string]struct{})
	for _, tx := range tokenTx {
		if tx.ContractAddress != "" {
			tokens[strings.ToLower(tx.ContractAddress)] = struct{}{}
		}
	}

	total := len(normal) + len(internal) + len(tokenTx)
	sig := Signals{
		BalanceETH:    weiToETH(balanceWei),
		TransferCount: total,
		UniqueSenders: len(senders),
		IsContract:    code != "" && code != "0x",
		TokenCount:    len(tokens),
	}
	score, factors := scoreSignals(sig)

	details := EtherscanDetails{
		Balance:              sig.BalanceETH.String(),
		IsContract:           sig.IsContract,
		TotalTransactions:    total,
		NormalTransactions:   len(normal),
		InternalTransactions: len(internal),
		TokenTransactions:    len(tokenTx),
		UniqueSenders:        sig.UniqueSenders,
		TokenCount:           sig.TokenCount,
		Categories:           etherscanCategories(sig, len(internal), factors),
		Exposure: []Exposure{
			{Type: "Normal", Percent: percent(len(normal), total)},
			{Type: "Internal", Percent: percent(len(internal), total)},
			{Type: "Token", Percent: percent(len(tokenTx), total)},
		},
		RiskFactors: factors,
	}

	f := e.finding(addr)
	f.Score = score
	f.Notes = heuristicNotes("Etherscan", factors)
	f.Details = details
	return f.Finalize()
}

func etherscanCategories(sig Signals, internal int, factors []Factor) []string {
	var cats []string
	if sig.IsContract {
		cats = append(cats, "Smart Contract")
	}
	if internal > 0 {
		cats = append(cats, "Contract Interaction")
	}
	if sig.TokenCount > 0 {
		cats = append(cats, "Token Activity")
	}
	for _, f := range factors {
		if f.Name == "mixing_pattern" {
			cats = append(cats, "Mixing")
		}
	}
	if len(cats) == 0 {
		cats = []string{"Wallet"}
	}
	return cats
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(1).
		InexactFloat64()
}

// firstUpstreamError prefers an error carrying an HTTP status so that
// handlers can pass it through.
func firstUpstreamError(provider string, errs []error) error {
	for _, err := range errs {
		var ue *risk.UpstreamError
		if errors.As(err, &ue) && ue.Status > 0 {
			return ue
		}
	}
	var ue *risk.UpstreamError
	if errors.As(errs[0], &ue) {
		return ue
	}
	return &risk.UpstreamError{Provider: provider, Message: "all queries failed", Err: errors.Join(errs...)}
}
