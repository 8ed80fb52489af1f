package model

// Network labels which Solana cluster the indexer follows. Used on
// metrics and log lines, never in storage keys.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkDevnet  Network = "devnet"
)

func (n Network) String() string {
	return string(n)
}

func ParseNetwork(s string) (Network, bool) {
	switch Network(s) {
	case NetworkMainnet, NetworkDevnet:
		return Network(s), true
	}
	return "", false
}
