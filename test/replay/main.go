// Package main implements an on-chain drift checker for the vitalfi
// indexer. It re-reads the current state of indexed vaults and positions
// through the same RPC fetch, decode, and normalize path live ingestion
// uses, then compares the result against the Redis read model.
//
// Subjects resolved through -authority and -owners come from the read
// model's own sets, so a vault the indexer never saw can only be checked
// by naming it in -vaults. State read mid-ingestion can show transient
// divergence; re-run before treating a mismatch as real drift.
//
// Usage:
//
//	go run ./test/replay \
//	  -rpc-url https://api.devnet.solana.com \
//	  -redis-url redis://localhost:6379 \
//	  -network devnet \
//	  -program-id Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS \
//	  -authority 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin \
//	  -owners 4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/credit-markets/vitalfi-backend/internal/chainstate"
	"github.com/credit-markets/vitalfi-backend/internal/config"
	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/normalize"
	"github.com/credit-markets/vitalfi-backend/internal/store/redisstore"
)

const (
	exitInSync = 0
	exitDrift  = 1
	exitFatal  = 2
)

func main() {
	var (
		rpcURL        = flag.String("rpc-url", "", "RPC endpoint URL")
		redisURL      = flag.String("redis-url", "redis://localhost:6379", "Redis connection URL")
		keyPrefix     = flag.String("key-prefix", "vitalfi", "Key prefix the indexer writes under")
		networkFlag   = flag.String("network", "devnet", "Network label (mainnet, devnet)")
		programFlag   = flag.String("program-id", "", "Vault program ID")
		vaultsFlag    = flag.String("vaults", "", "Comma-separated vault addresses to check")
		authorityFlag = flag.String("authority", "", "Check every indexed vault of this authority")
		ownersFlag    = flag.String("owners", "", "Comma-separated owners whose indexed positions to check")
		outputFlag    = flag.String("output", "text", "Output format (text / json)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var missing []string
	if *rpcURL == "" {
		missing = append(missing, "-rpc-url")
	}
	if *programFlag == "" {
		missing = append(missing, "-program-id")
	}
	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "missing required flags: %s\n", strings.Join(missing, ", "))
		flag.Usage()
		os.Exit(exitFatal)
	}
	if *vaultsFlag == "" && *authorityFlag == "" && *ownersFlag == "" {
		fmt.Fprintln(os.Stderr, "nothing to check: pass -vaults, -authority, or -owners")
		flag.Usage()
		os.Exit(exitFatal)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := redisstore.New(*redisURL, *keyPrefix, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to redis %s: %v\n", config.RedactURL(*redisURL), err)
		os.Exit(exitFatal)
	}
	defer st.Close()
	keys := st.Keys()

	client := chainstate.NewClient(*rpcURL, *networkFlag, 30*time.Second, logger)
	fetcher := chainstate.NewFetcher(client, chainstate.FetcherConfig{}, *networkFlag, logger)

	// Resolve the subject set: explicit vaults plus whatever the read
	// model attributes to the given authority and owners.
	vaultAddrs := splitCSV(*vaultsFlag)
	if *authorityFlag != "" {
		members, err := st.Members(ctx, keys.VaultsByAuthority(*authorityFlag))
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve vaults of authority %s: %v\n", *authorityFlag, err)
			os.Exit(exitFatal)
		}
		vaultAddrs = appendUnique(vaultAddrs, members)
	}

	var positionAddrs []string
	for _, owner := range splitCSV(*ownersFlag) {
		members, err := st.Members(ctx, keys.PositionsByOwner(owner))
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve positions of owner %s: %v\n", owner, err)
			os.Exit(exitFatal)
		}
		positionAddrs = appendUnique(positionAddrs, members)
	}

	if len(vaultAddrs) == 0 && len(positionAddrs) == 0 {
		fmt.Fprintln(os.Stderr, "resolved zero subjects to check")
		os.Exit(exitFatal)
	}

	// Read model side.
	cachedVaults := make(map[string]*model.Vault, len(vaultAddrs))
	if len(vaultAddrs) > 0 {
		vaults, err := st.GetVaults(ctx, vaultAddrs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read vaults: %v\n", err)
			os.Exit(exitFatal)
		}
		for _, v := range vaults {
			cachedVaults[v.Address] = v
		}
	}
	cachedPositions := make(map[string]*model.Position, len(positionAddrs))
	if len(positionAddrs) > 0 {
		positions, err := st.GetPositions(ctx, positionAddrs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read positions: %v\n", err)
			os.Exit(exitFatal)
		}
		for _, p := range positions {
			cachedPositions[p.Address] = p
		}
	}

	// Chain side, through the same retrying fetcher the indexer runs.
	all := make([]string, 0, len(vaultAddrs)+len(positionAddrs))
	all = append(all, vaultAddrs...)
	all = append(all, positionAddrs...)
	accounts, err := fetcher.Accounts(ctx, all)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch chain state: %v\n", err)
		os.Exit(exitFatal)
	}

	norm := normalize.New(logger)
	var res DriftResult
	compareVaults(norm, *programFlag, vaultAddrs, cachedVaults, accounts, &res)
	comparePositions(norm, *programFlag, positionAddrs, cachedPositions, accounts, &res)
	res.finalize()

	switch *outputFlag {
	case "json":
		if err := printJSONReport(os.Stdout, *networkFlag, len(vaultAddrs), len(positionAddrs), res); err != nil {
			fmt.Fprintf(os.Stderr, "write report: %v\n", err)
			os.Exit(exitFatal)
		}
	default:
		printTextReport(os.Stdout, *networkFlag, len(vaultAddrs), len(positionAddrs), res)
	}

	if res.HasDrift() {
		os.Exit(exitDrift)
	}
	os.Exit(exitInSync)
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func appendUnique(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range src {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}
