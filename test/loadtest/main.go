// Package main implements a load test harness for the vitalfi indexer.
// It mints synthetic vault worlds, drives webhook-shaped transaction
// events through the full ingest path against a real Redis, and measures
// throughput, latency, and error rate. Every world walks the whole vault
// lifecycle so a verified run proves convergence, not just write volume.
//
// Usage:
//
//	go run ./test/loadtest \
//	  -redis-url "redis://localhost:6379" \
//	  -key-prefix vitalfi_lt \
//	  -concurrency 4 \
//	  -duration 30s \
//	  -positions 8 \
//	  -redeliver-every 7 \
//	  -network devnet \
//	  -verify
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/credit-markets/vitalfi-backend/internal/alert"
	"github.com/credit-markets/vitalfi-backend/internal/chainstate"
	"github.com/credit-markets/vitalfi-backend/internal/config"
	"github.com/credit-markets/vitalfi-backend/internal/domain/event"
	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/ingest"
	"github.com/credit-markets/vitalfi-backend/internal/ledger"
	"github.com/credit-markets/vitalfi-backend/internal/normalize"
	"github.com/credit-markets/vitalfi-backend/internal/reconcile"
	"github.com/credit-markets/vitalfi-backend/internal/schema"
	"github.com/credit-markets/vitalfi-backend/internal/store/redisstore"
)

// systemOwner marks synthetic wallet accounts so the ingester's program
// ownership filter has something to skip.
const systemOwner = "11111111111111111111111111111111"

func main() {
	var (
		redisURL       = flag.String("redis-url", "redis://localhost:6379", "Redis connection URL")
		keyPrefix      = flag.String("key-prefix", "vitalfi_lt", "Key prefix for load test data")
		concurrency    = flag.Int("concurrency", 4, "Number of parallel vault worlds")
		duration       = flag.Duration("duration", 30*time.Second, "Deposit phase duration")
		positions      = flag.Int("positions", 8, "Depositor wallets per vault")
		redeliverEvery = flag.Int("redeliver-every", 7, "Redeliver every Nth event (0 disables)")
		networkFlag    = flag.String("network", "devnet", "Network label for metrics and activities")
		verify         = flag.Bool("verify", false, "Run post-load-test convergence verification")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	runID := uuid.NewString()[:8]
	programID := pubkeyFor("vitalfi-loadtest-program")

	fmt.Printf("load test configuration: redis=%s prefix=%s run=%s workers=%d duration=%s positions=%d redeliver_every=%d network=%s\n",
		config.RedactURL(*redisURL), *keyPrefix, runID, *concurrency, *duration, *positions, *redeliverEvery, *networkFlag)

	st, err := redisstore.New(*redisURL, *keyPrefix, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to redis: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	// Shared pipeline components; each worker gets its own ingester and
	// synthetic chain world.
	normalizer := normalize.New(logger)
	reconciler := reconcile.New(st, logger)
	alerter := alert.NewMultiAlerter(time.Minute, logger)
	led := ledger.New(st, st.Keys(), *networkFlag, 0, alerter, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *duration+2*time.Minute)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(os.Stderr, "received signal %s, shutting down\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Stats collection.
	var (
		totalEvents           atomic.Int64
		totalRedeliveries     atomic.Int64
		totalErrors           atomic.Int64
		redeliveredActivities atomic.Int64
		latenciesMu           sync.Mutex
		latenciesNs           []int64
	)

	recordLatency := func(d time.Duration) {
		latenciesMu.Lock()
		latenciesNs = append(latenciesNs, d.Nanoseconds())
		latenciesMu.Unlock()
	}

	worlds := make([]*chainWorld, *concurrency)

	// Worker function: each worker owns one vault world and walks it from
	// InitializeVault through deposits to settlement and closure.
	worker := func(workerID int) {
		world := newChainWorld(programID, runID, workerID, *positions)
		worlds[workerID] = world

		ing := ingest.New(world, normalizer, reconciler, st, led, programID, *networkFlag,
			logger.With("worker", workerID))

		deliver := func(ev *event.TransactionEvent, redelivery bool) {
			start := time.Now()
			res, err := ing.Ingest(ctx, ev)
			recordLatency(time.Since(start))
			if err != nil {
				if ctx.Err() == nil {
					fmt.Fprintf(os.Stderr, "worker %d: ingest %s failed: %v\n", workerID, ev.Signature, err)
					totalErrors.Add(1)
				}
				return
			}
			if redelivery {
				totalRedeliveries.Add(1)
				redeliveredActivities.Add(int64(res.ActivitiesCreated))
				return
			}
			totalEvents.Add(1)
			world.activitiesCreated += int64(res.ActivitiesCreated)
		}

		deliver(world.initializeVault(), false)

		seq := 0
		deadline := time.Now().Add(*duration)
		for time.Now().Before(deadline) && ctx.Err() == nil {
			ownerIdx := seq % *positions
			amount := uint64(1_000_000 * (1 + seq%10))
			ev := world.deposit(ownerIdx, amount)
			deliver(ev, false)
			seq++

			if *redeliverEvery > 0 && seq%*redeliverEvery == 0 {
				deliver(ev, true)
			}
		}

		if ctx.Err() != nil {
			return
		}

		// Settlement tail: activate, mature, claim every funded position,
		// then close the vault so deletion inference runs under load too.
		deliver(world.activate(), false)
		deliver(world.mature(), false)
		for i := 0; i < *positions; i++ {
			if ev := world.claim(i); ev != nil {
				deliver(ev, false)
			}
		}
		deliver(world.closeAll(), false)
		world.completed = true
	}

	fmt.Printf("starting load test: workers=%d duration=%s\n", *concurrency, *duration)
	testStart := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(id)
		}(i)
	}
	wg.Wait()

	testDuration := time.Since(testStart)

	// Compute statistics.
	events := totalEvents.Load()
	redeliveries := totalRedeliveries.Load()
	errors := totalErrors.Load()

	latenciesMu.Lock()
	allLatencies := make([]int64, len(latenciesNs))
	copy(allLatencies, latenciesNs)
	latenciesMu.Unlock()

	sort.Slice(allLatencies, func(i, j int) bool { return allLatencies[i] < allLatencies[j] })

	p50 := percentile(allLatencies, 50)
	p95 := percentile(allLatencies, 95)
	p99 := percentile(allLatencies, 99)

	eventsPerSec := float64(events) / testDuration.Seconds()
	errorRate := float64(0)
	if events > 0 {
		errorRate = float64(errors) / float64(events) * 100
	}

	// Print report.
	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("       LOAD TEST RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Duration:       %s\n", testDuration.Round(time.Millisecond))
	fmt.Printf("Workers:        %d\n", *concurrency)
	fmt.Printf("Network:        %s\n", *networkFlag)
	fmt.Println("----------------------------------------")
	fmt.Println("Throughput:")
	fmt.Printf("  Events:       %d\n", events)
	fmt.Printf("  Redelivered:  %d\n", redeliveries)
	fmt.Printf("  Events/sec:   %.2f\n", eventsPerSec)
	fmt.Println("----------------------------------------")
	fmt.Println("Latency (per event):")
	fmt.Printf("  p50:          %s\n", formatNanos(p50))
	fmt.Printf("  p95:          %s\n", formatNanos(p95))
	fmt.Printf("  p99:          %s\n", formatNanos(p99))
	fmt.Println("----------------------------------------")
	fmt.Println("Errors:")
	fmt.Printf("  Total:        %d\n", errors)
	fmt.Printf("  Error rate:   %.2f%%\n", errorRate)
	fmt.Println("========================================")

	if *verify {
		if verifyConvergence(st, worlds, redeliveredActivities.Load()) {
			errors++
		}
	}

	if errors > 0 {
		os.Exit(1)
	}
}

// checkResult holds the outcome of a single verification check.
type checkResult struct {
	Name   string
	Passed bool
	Detail string
}

// verifyConvergence compares the indexed read model against each world's
// own bookkeeping. It returns true if any check failed.
func verifyConvergence(st *redisstore.Store, worlds []*chainWorld, redeliveredActivities int64) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var results []checkResult
	skipped := 0

	for _, w := range worlds {
		if w == nil || !w.completed {
			skipped++
			continue
		}
		results = append(results, verifyVaultConverged(ctx, st, w))
		results = append(results, verifyPositionsSettled(ctx, st, w))
		results = append(results, verifyTimelineComplete(ctx, st, w))
	}

	results = append(results, checkResult{
		Name:   "redeliveries created no duplicate activities",
		Passed: redeliveredActivities == 0,
		Detail: fmt.Sprintf("%d activities created by redelivered events", redeliveredActivities),
	})

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("     CONVERGENCE VERIFICATION")
	fmt.Println("========================================")
	if skipped > 0 {
		fmt.Printf("  (%d interrupted world(s) skipped)\n", skipped)
	}

	anyFailed := false
	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
			anyFailed = true
		}
		fmt.Printf("  [%s] %s\n", status, r.Name)
		if r.Detail != "" {
			fmt.Printf("         %s\n", r.Detail)
		}
	}

	fmt.Println("----------------------------------------")
	if anyFailed {
		fmt.Println("  Result: SOME CHECKS FAILED")
	} else {
		fmt.Println("  Result: ALL CHECKS PASSED")
	}
	fmt.Println("========================================")

	return anyFailed
}

// verifyVaultConverged checks that the indexed vault reached the closed
// terminal state with the world's final amounts and slot.
func verifyVaultConverged(ctx context.Context, st *redisstore.Store, w *chainWorld) checkResult {
	name := fmt.Sprintf("vault %s converged", short(w.vaultAddress))

	v, err := st.GetVault(ctx, w.vaultAddress)
	if err != nil {
		return checkResult{Name: name, Detail: fmt.Sprintf("read error: %v", err)}
	}
	if v == nil {
		return checkResult{Name: name, Detail: "vault not found in store"}
	}

	wantDeposited := strconv.FormatUint(w.vault.Deposited, 10)
	wantClaimed := strconv.FormatUint(w.vault.Claimed, 10)
	switch {
	case v.Status != model.StatusClosed:
		return checkResult{Name: name, Detail: fmt.Sprintf("status %s, want %s", v.Status, model.StatusClosed)}
	case v.Deposited != wantDeposited:
		return checkResult{Name: name, Detail: fmt.Sprintf("deposited %s, want %s", v.Deposited, wantDeposited)}
	case v.Claimed != wantClaimed:
		return checkResult{Name: name, Detail: fmt.Sprintf("claimed %s, want %s", v.Claimed, wantClaimed)}
	case v.Slot != w.slot:
		return checkResult{Name: name, Detail: fmt.Sprintf("slot %d, want %d", v.Slot, w.slot)}
	}

	return checkResult{Name: name, Passed: true,
		Detail: fmt.Sprintf("deposited=%s claimed=%s slot=%d", v.Deposited, v.Claimed, v.Slot)}
}

// verifyPositionsSettled checks that every funded position closed with
// the payout the world computed.
func verifyPositionsSettled(ctx context.Context, st *redisstore.Store, w *chainWorld) checkResult {
	name := fmt.Sprintf("vault %s positions settled", short(w.vaultAddress))

	settled := 0
	for addr, ps := range w.positions {
		p, err := st.GetPosition(ctx, addr)
		if err != nil {
			return checkResult{Name: name, Detail: fmt.Sprintf("read %s: %v", short(addr), err)}
		}
		if p == nil {
			return checkResult{Name: name, Detail: fmt.Sprintf("position %s not found", short(addr))}
		}
		if p.Status != model.StatusClosed {
			return checkResult{Name: name, Detail: fmt.Sprintf("position %s status %s, want %s", short(addr), p.Status, model.StatusClosed)}
		}
		wantClaimed := strconv.FormatUint(ps.account.Claimed, 10)
		if p.Claimed != wantClaimed {
			return checkResult{Name: name, Detail: fmt.Sprintf("position %s claimed %s, want %s", short(addr), p.Claimed, wantClaimed)}
		}
		settled++
	}

	return checkResult{Name: name, Passed: true, Detail: fmt.Sprintf("%d position(s) settled", settled)}
}

// verifyTimelineComplete checks that the vault's subject timeline holds
// exactly the activities the ingester reported creating.
func verifyTimelineComplete(ctx context.Context, st *redisstore.Store, w *chainWorld) checkResult {
	name := fmt.Sprintf("vault %s timeline complete", short(w.vaultAddress))

	key := st.Keys().SubjectTimeline(w.vaultAddress)
	res, err := st.RevRangeByScore(ctx, key, nil, w.activitiesCreated+16)
	if err != nil {
		return checkResult{Name: name, Detail: fmt.Sprintf("range error: %v", err)}
	}
	if !res.IndexBuilt {
		return checkResult{Name: name, Detail: "subject timeline missing"}
	}
	got := int64(len(res.Members))
	if got != w.activitiesCreated {
		return checkResult{Name: name, Detail: fmt.Sprintf("%d timeline entries, want %d", got, w.activitiesCreated)}
	}

	return checkResult{Name: name, Passed: true, Detail: fmt.Sprintf("%d entries", got)}
}

// chainWorld is one worker's synthetic source of chain truth. It plays
// the RPC node for the ingester: Accounts serializes the current state of
// every address the world has minted. Mutations advance the slot and
// block time together so observations stay strictly ordered.
type chainWorld struct {
	mu        sync.Mutex
	programID string

	vaultAddress string
	authority    string
	vault        *schema.VaultAccount
	vaultExists  bool

	positions map[string]*positionState
	posAddrs  []string

	label     string
	slot      int64
	blockTime int64
	seq       int64

	activitiesCreated int64
	completed         bool
}

type positionState struct {
	account *schema.PositionAccount
	owner   string
	exists  bool
}

func newChainWorld(programID, runID string, workerID, positions int) *chainWorld {
	label := fmt.Sprintf("lt-%s-w%d", runID, workerID)
	w := &chainWorld{
		programID:    programID,
		label:        label,
		vaultAddress: pubkeyFor(label + "-vault"),
		authority:    pubkeyFor(label + "-authority"),
		positions:    make(map[string]*positionState, positions),
		posAddrs:     make([]string, positions),
		slot:         1_000_000,
		blockTime:    time.Now().UTC().Unix(),
	}
	for i := 0; i < positions; i++ {
		w.posAddrs[i] = pubkeyFor(fmt.Sprintf("%s-pos-%d", label, i))
	}
	return w
}

// Accounts implements ingest.Fetcher over the world's current state.
func (w *chainWorld) Accounts(_ context.Context, addresses []string) (map[string]chainstate.Account, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]chainstate.Account, len(addresses))
	for _, addr := range addresses {
		switch {
		case addr == w.vaultAddress:
			out[addr] = w.encode(w.vault, w.vaultExists)
		default:
			if ps, ok := w.positions[addr]; ok {
				out[addr] = w.encode(ps.account, ps.exists)
				continue
			}
			// Wallets and the authority: live accounts the program does
			// not own.
			out[addr] = chainstate.Account{Owner: systemOwner, Lamports: 1_000_000_000, Exists: true}
		}
	}
	return out, nil
}

func (w *chainWorld) encode(acc interface{}, exists bool) chainstate.Account {
	if !exists {
		return chainstate.Account{}
	}
	var (
		data []byte
		err  error
	)
	switch a := acc.(type) {
	case *schema.VaultAccount:
		data, err = schema.EncodeVault(a)
	case *schema.PositionAccount:
		data, err = schema.EncodePosition(a)
	}
	if err != nil {
		// Encoding plain structs cannot fail; surface it loudly if it does.
		panic(fmt.Sprintf("encode world account: %v", err))
	}
	return chainstate.Account{Data: data, Owner: w.programID, Lamports: 2_039_280, Exists: true}
}

// advance bumps the world clock and returns the event shell every
// mutation fills in.
func (w *chainWorld) advance(instruction string, accounts ...string) *event.TransactionEvent {
	w.seq++
	w.slot++
	w.blockTime++
	bt := w.blockTime
	return &event.TransactionEvent{
		Signature: fmt.Sprintf("%s-sig-%d", w.label, w.seq),
		Slot:      w.slot,
		BlockTime: &bt,
		Accounts:  accounts,
		Logs:      []string{"Program log: Instruction: " + instruction},
	}
}

func (w *chainWorld) initializeVault() *event.TransactionEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	ev := w.advance("InitializeVault", w.vaultAddress, w.authority)
	w.vault = &schema.VaultAccount{
		Authority:         mustPubkey(w.authority),
		AssetMint:         mustPubkey(pubkeyFor(w.label + "-mint")),
		Capacity:          1 << 62,
		PayoutNumerator:   105,
		PayoutDenominator: 100,
		Status:            0,
		Bump:              255,
		CreatedAt:         w.blockTime,
	}
	w.vaultExists = true
	return ev
}

func (w *chainWorld) deposit(ownerIdx int, amount uint64) *event.TransactionEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	posAddr := w.posAddrs[ownerIdx]
	owner := pubkeyFor(fmt.Sprintf("%s-owner-%d", w.label, ownerIdx))
	ev := w.advance("Deposit", w.vaultAddress, posAddr, owner)

	ps, ok := w.positions[posAddr]
	if !ok {
		ps = &positionState{
			account: &schema.PositionAccount{
				Vault:     mustPubkey(w.vaultAddress),
				Owner:     mustPubkey(owner),
				Status:    0,
				Bump:      254,
				CreatedAt: w.blockTime,
			},
			owner:  owner,
			exists: true,
		}
		w.positions[posAddr] = ps
	}
	ps.account.Deposited += amount
	w.vault.Deposited += amount
	return ev
}

func (w *chainWorld) activate() *event.TransactionEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	ev := w.advance("ActivateVault", w.vaultAddress)
	w.vault.Status = 1
	return ev
}

func (w *chainWorld) mature() *event.TransactionEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	ev := w.advance("MatureVault", w.vaultAddress)
	w.vault.Status = 2
	return ev
}

// claim settles one position at the configured payout ratio and deletes
// its account, the way the program pays out and reclaims rent in one
// instruction. Returns nil when the position never received a deposit.
func (w *chainWorld) claim(ownerIdx int) *event.TransactionEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	posAddr := w.posAddrs[ownerIdx]
	ps, ok := w.positions[posAddr]
	if !ok {
		return nil
	}
	ev := w.advance("Claim", w.vaultAddress, posAddr, ps.owner)

	payout := ps.account.Deposited * w.vault.PayoutNumerator / w.vault.PayoutDenominator
	ps.account.Claimed = payout
	ps.exists = false
	w.vault.Claimed += payout
	return ev
}

// closeAll deletes the vault account after all positions have claimed.
func (w *chainWorld) closeAll() *event.TransactionEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	ev := w.advance("CloseVault", w.vaultAddress)
	w.vaultExists = false
	return ev
}

// pubkeyFor derives a deterministic valid base58 pubkey from a label.
func pubkeyFor(label string) string {
	h := sha256.Sum256([]byte(label))
	return solana.PublicKeyFromBytes(h[:]).String()
}

func mustPubkey(addr string) solana.PublicKey {
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		panic(fmt.Sprintf("bad pubkey %q: %v", addr, err))
	}
	return pk
}

func short(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:8]
}

// percentile returns the value at the given percentile from a sorted slice.
func percentile(sorted []int64, pct float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// formatNanos formats nanoseconds as a human-readable duration string.
func formatNanos(ns int64) string {
	d := time.Duration(ns)
	if d < time.Millisecond {
		return fmt.Sprintf("%.1fus", float64(d.Microseconds()))
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
