package asset

// ID maps asset symbols to numeric IDs for compact keys
type ID uint16

var (
	symbolToID = map[string]ID{
		"USDC": 1,
		"USDT": 2,
		"WETH": 3,
		"WBTC": 4,
		"DAI":  5,
	}
	idToSymbol = map[ID]string{
		1: "USDC",
		2: "USDT",
		3: "WETH",
		4: "WBTC",
		5: "DAI",
	}
)

// Lookup resolves a symbol to its asset ID.
func Lookup(symbol string) (ID, bool) {
	id, ok := symbolToID[symbol]
	return id, ok
}

// Symbol returns the symbol for an asset ID, or "unknown".
func (id ID) Symbol() string {
	if s, ok := idToSymbol[id]; ok {
		return s
	}
	return "unknown"
}

// Symbols returns every registered symbol. Order is not stable.
func Symbols() []string {
	out := make([]string, 0, len(symbolToID))
	for s := range symbolToID {
		out = append(out, s)
	}
	return out
}

// Register adds a symbol/ID pair to the registry. Intended for deployment
// wiring and tests; not safe for concurrent use with lookups.
func Register(symbol string, id ID) {
	symbolToID[symbol] = id
	idToSymbol[id] = symbol
}
