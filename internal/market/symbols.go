package market

import (
	"fmt"
	"strings"
)

// Exchange identifies a tick source
type Exchange string

const (
	ExchangeBinance  Exchange = "binance"
	ExchangeCoinbase Exchange = "coinbase"
	ExchangeFallback Exchange = "fallback"
)

// Mapping ties a canonical symbol id to its per-exchange symbols.
// Empty exchange symbols mean the asset is not listed there.
type Mapping struct {
	CanonicalID string `json:"canonical_id"`
	Binance     string `json:"binance"`
	Coinbase    string `json:"coinbase"`
}

// SymbolMap is the static bidirectional mapping between canonical ids and
// per-exchange symbols. Immutable after construction; lookups are O(1).
type SymbolMap struct {
	byID       map[string]Mapping
	byBinance  map[string]string
	byCoinbase map[string]string
	ordered    []string
}

// NewSymbolMap builds the map, rejecting duplicates and blank ids.
// A bad mapping is a startup configuration error and fatal to the caller.
func NewSymbolMap(mappings []Mapping) (*SymbolMap, error) {
	sm := &SymbolMap{
		byID:       make(map[string]Mapping, len(mappings)),
		byBinance:  make(map[string]string, len(mappings)),
		byCoinbase: make(map[string]string, len(mappings)),
	}

	for _, m := range mappings {
		id := strings.TrimSpace(m.CanonicalID)
		if id == "" {
			return nil, fmt.Errorf("symbol mapping with empty canonical id")
		}
		if _, dup := sm.byID[id]; dup {
			return nil, fmt.Errorf("duplicate canonical id %q in symbol map", id)
		}
		m.CanonicalID = id
		sm.byID[id] = m
		sm.ordered = append(sm.ordered, id)

		if m.Binance != "" {
			if prev, dup := sm.byBinance[m.Binance]; dup {
				return nil, fmt.Errorf("binance symbol %q mapped to both %q and %q", m.Binance, prev, id)
			}
			sm.byBinance[m.Binance] = id
		}
		if m.Coinbase != "" {
			if prev, dup := sm.byCoinbase[m.Coinbase]; dup {
				return nil, fmt.Errorf("coinbase symbol %q mapped to both %q and %q", m.Coinbase, prev, id)
			}
			sm.byCoinbase[m.Coinbase] = id
		}
	}

	return sm, nil
}

// Lookup returns the mapping for a canonical id
func (sm *SymbolMap) Lookup(canonicalID string) (Mapping, bool) {
	m, ok := sm.byID[canonicalID]
	return m, ok
}

// CanonicalFor resolves a per-exchange symbol back to its canonical id
func (sm *SymbolMap) CanonicalFor(exchange Exchange, symbol string) (string, bool) {
	switch exchange {
	case ExchangeBinance:
		id, ok := sm.byBinance[symbol]
		return id, ok
	case ExchangeCoinbase:
		id, ok := sm.byCoinbase[symbol]
		return id, ok
	default:
		_, ok := sm.byID[symbol]
		return symbol, ok
	}
}

// ExchangeSymbols returns all per-exchange symbols for one exchange, in
// declaration order.
func (sm *SymbolMap) ExchangeSymbols(exchange Exchange) []string {
	out := make([]string, 0, len(sm.ordered))
	for _, id := range sm.ordered {
		m := sm.byID[id]
		switch exchange {
		case ExchangeBinance:
			if m.Binance != "" {
				out = append(out, m.Binance)
			}
		case ExchangeCoinbase:
			if m.Coinbase != "" {
				out = append(out, m.Coinbase)
			}
		}
	}
	return out
}

// CanonicalIDs returns every canonical id in declaration order
func (sm *SymbolMap) CanonicalIDs() []string {
	out := make([]string, len(sm.ordered))
	copy(out, sm.ordered)
	return out
}

// Unstreamed returns canonical ids that no stream source covers; these fall
// back to HTTP polling.
func (sm *SymbolMap) Unstreamed() []string {
	var out []string
	for _, id := range sm.ordered {
		m := sm.byID[id]
		if m.Binance == "" && m.Coinbase == "" {
			out = append(out, id)
		}
	}
	return out
}

// DefaultMappings covers the default top-market-cap monitored set.
func DefaultMappings() []Mapping {
	return []Mapping{
		{CanonicalID: "bitcoin", Binance: "BTCUSDT", Coinbase: "BTC-USD"},
		{CanonicalID: "ethereum", Binance: "ETHUSDT", Coinbase: "ETH-USD"},
		{CanonicalID: "binancecoin", Binance: "BNBUSDT"},
		{CanonicalID: "solana", Binance: "SOLUSDT", Coinbase: "SOL-USD"},
		{CanonicalID: "ripple", Binance: "XRPUSDT", Coinbase: "XRP-USD"},
		{CanonicalID: "cardano", Binance: "ADAUSDT", Coinbase: "ADA-USD"},
		{CanonicalID: "avalanche-2", Binance: "AVAXUSDT", Coinbase: "AVAX-USD"},
		{CanonicalID: "dogecoin", Binance: "DOGEUSDT", Coinbase: "DOGE-USD"},
		{CanonicalID: "polkadot", Binance: "DOTUSDT", Coinbase: "DOT-USD"},
		{CanonicalID: "chainlink", Binance: "LINKUSDT", Coinbase: "LINK-USD"},
		{CanonicalID: "polygon", Binance: "MATICUSDT", Coinbase: "MATIC-USD"},
		{CanonicalID: "litecoin", Binance: "LTCUSDT", Coinbase: "LTC-USD"},
		{CanonicalID: "uniswap", Binance: "UNIUSDT", Coinbase: "UNI-USD"},
		{CanonicalID: "cosmos", Binance: "ATOMUSDT", Coinbase: "ATOM-USD"},
		{CanonicalID: "stellar", Binance: "XLMUSDT", Coinbase: "XLM-USD"},
		{CanonicalID: "near", Binance: "NEARUSDT", Coinbase: "NEAR-USD"},
		{CanonicalID: "aptos", Binance: "APTUSDT", Coinbase: "APT-USD"},
		{CanonicalID: "arbitrum", Binance: "ARBUSDT", Coinbase: "ARB-USD"},
		{CanonicalID: "optimism", Binance: "OPUSDT", Coinbase: "OP-USD"},
		{CanonicalID: "injective-protocol", Binance: "INJUSDT", Coinbase: "INJ-USD"},
		{CanonicalID: "sui", Binance: "SUIUSDT", Coinbase: "SUI-USD"},
		{CanonicalID: "sei-network", Binance: "SEIUSDT", Coinbase: "SEI-USD"},
		{CanonicalID: "aave", Binance: "AAVEUSDT", Coinbase: "AAVE-USD"},
		{CanonicalID: "filecoin", Binance: "FILUSDT", Coinbase: "FIL-USD"},
		{CanonicalID: "hedera-hashgraph", Binance: "HBARUSDT", Coinbase: "HBAR-USD"},
		{CanonicalID: "internet-computer", Binance: "ICPUSDT", Coinbase: "ICP-USD"},
		{CanonicalID: "render-token", Binance: "RENDERUSDT", Coinbase: "RENDER-USD"},
		{CanonicalID: "the-graph", Binance: "GRTUSDT", Coinbase: "GRT-USD"},
		{CanonicalID: "algorand", Binance: "ALGOUSDT", Coinbase: "ALGO-USD"},
		{CanonicalID: "fantom", Binance: "FTMUSDT"},
	}
}

// StablecoinIDs lists canonical ids treated as ULTRA_LOW volatility assets
// by the significance filter.
var StablecoinIDs = map[string]bool{
	"tether":    true,
	"usd-coin":  true,
	"dai":       true,
	"first-digital-usd": true,
}
