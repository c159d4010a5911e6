package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ksred/klear-paper/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// options collects the command line flags
type options struct {
	server    string
	apiKey    string
	apiSecret string
	orders    int
	workers   int
	rounds    int
	budget    float64
	bracket   float64
	moveSize  float64
	currency  string
	seed      int64
	verbose   bool
}

// BNB is reserved for fee payment
var symbols = []string{"BTC", "ETH", "SOL", "XRP"}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "simulation",
		Short: "Drive a paper trading server with simulated traders",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
			log.Logger = zerolog.New(output).With().Timestamp().Logger()
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if opts.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "paper trading server base URL")
	flags.StringVar(&opts.apiKey, "api-key", "test-api-key", "API key")
	flags.StringVar(&opts.apiSecret, "api-secret", "test-api-secret", "API secret")
	flags.StringVar(&opts.currency, "currency", "USD", "display currency for reports")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every API response")

	run := &cobra.Command{
		Use:   "run",
		Short: "Open bracketed orders concurrently, move prices and report the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(opts, cmd.OutOrStdout())
		},
	}
	run.Flags().IntVar(&opts.orders, "orders", 40, "number of orders to place")
	run.Flags().IntVar(&opts.workers, "workers", 5, "concurrent order workers")
	run.Flags().IntVar(&opts.rounds, "rounds", 10, "price update rounds")
	run.Flags().Float64Var(&opts.budget, "budget", 150, "USD budget per order")
	run.Flags().Float64Var(&opts.bracket, "bracket", 0.03, "stop loss and take profit distance as a fraction of entry")
	run.Flags().Float64Var(&opts.moveSize, "move", 0.015, "maximum price move per round as a fraction")
	run.Flags().Int64Var(&opts.seed, "seed", time.Now().UnixNano(), "random seed")

	demo := &cobra.Command{
		Use:   "demo",
		Short: "Replay the BTC stop loss walkthrough step by step",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts, cmd.OutOrStdout())
		},
	}

	root.AddCommand(run, demo)
	return root
}

type runStats struct {
	mu            sync.Mutex
	placed        int
	failed        int
	closedTrigger int
	cancelled     int
	triggerFails  int
	symbols       map[string]int
}

func (s *runStats) addPlaced(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed++
	s.symbols[symbol]++
}

func (s *runStats) addFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

func runSimulation(opts *options, out io.Writer) error {
	if opts.workers <= 0 || opts.orders <= 0 {
		return errors.New("orders and workers must be positive")
	}
	sc := newSimulationClient(opts.server, nil)
	if err := sc.authenticate(opts.apiKey, opts.apiSecret); err != nil {
		return err
	}

	start, err := sc.account(opts.currency)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	prices := make(map[string]float64)
	for _, sym := range symbols {
		if p := start.Prices[sym]; p > 0 {
			prices[sym] = p
		}
	}
	if len(prices) == 0 {
		return errors.New("server has no prices for the simulated symbols")
	}
	tradable := make([]string, 0, len(prices))
	for sym := range prices {
		tradable = append(tradable, sym)
	}
	sort.Strings(tradable)

	log.Info().Int("orders", opts.orders).Int("workers", opts.workers).Strs("symbols", tradable).Msg("Starting simulation")
	began := time.Now()

	stats := &runStats{symbols: make(map[string]int)}
	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(opts.seed + int64(workerID)))
			for range jobs {
				placeOrder(sc, rng, workerID, tradable, prices, opts, stats)
			}
		}(w)
	}
	for i := 0; i < opts.orders; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// walk prices so some brackets trigger
	rng := rand.New(rand.NewSource(opts.seed))
	for round := 0; round < opts.rounds; round++ {
		for sym, p := range prices {
			prices[sym] = p * (1 + (rng.Float64()*2-1)*opts.moveSize)
		}
		update := make(map[string]float64, len(prices))
		for sym, p := range prices {
			update[sym] = p
		}
		result, err := sc.pushPrices(update)
		if err != nil {
			log.Error().Err(err).Int("round", round).Msg("Failed to push prices")
			continue
		}
		stats.closedTrigger += len(result.Closed)
		stats.triggerFails += len(result.Failures)
		for _, closed := range result.Closed {
			log.Info().
				Str("order_id", closed.ClosesOrderID).
				Str("symbol", closed.Symbol).
				Float64("price", closed.Price).
				Msg(closed.Message)
		}
	}

	// cancel whatever is still open
	snap, err := sc.account(opts.currency)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	for _, open := range snap.OpenOrders {
		exec, err := sc.cancelOrder(open.OrderID)
		if err != nil {
			log.Warn().Err(err).Str("order_id", open.OrderID).Msg("Failed to cancel order")
			continue
		}
		stats.cancelled++
		log.Info().Str("order_id", exec.OrderID).Float64("pnl", exec.PnL).Msg("Order cancelled")
	}

	summary, err := sc.history(opts.currency)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	final, err := sc.account(opts.currency)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	printSummary(out, stats, summary, start, final, time.Since(began))
	sc.printPerformanceStats(out)
	return nil
}

func placeOrder(sc *simulationClient, rng *rand.Rand, workerID int, tradable []string, prices map[string]float64, opts *options, stats *runStats) {
	symbol := tradable[rng.Intn(len(tradable))]
	entry := prices[symbol]
	budget := opts.budget * (0.5 + rng.Float64())

	req := types.OrderRequest{
		Symbol:     symbol + "USDT",
		Side:       types.SideBuy,
		Quantity:   budget / entry,
		StopLoss:   entry * (1 - opts.bracket),
		TakeProfit: entry * (1 + opts.bracket),
		Budget:     budget,
		Currency:   "USD",
	}
	if rng.Intn(4) == 0 {
		req.FeePaymentAsset = "BNB"
	}

	exec, err := sc.executeOrder(req)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == "INSUFFICIENT_BALANCE" && req.FeePaymentAsset != "" {
			// no BNB to pay with, retry with the quote asset
			req.FeePaymentAsset = ""
			exec, err = sc.executeOrder(req)
		}
	}
	if err != nil {
		log.Error().Err(err).Int("worker_id", workerID).Str("symbol", symbol).Msg("Failed to place order")
		stats.addFailed()
		return
	}

	stats.addPlaced(symbol)
	log.Info().
		Int("worker_id", workerID).
		Str("order_id", exec.OrderID).
		Str("symbol", exec.Symbol).
		Float64("price", exec.Price).
		Float64("quantity", exec.Quantity).
		Msg("Order executed")
}

func printSummary(out io.Writer, stats *runStats, summary *types.TradeHistorySummary, start, final *types.AccountSnapshot, duration time.Duration) {
	fmt.Fprintln(out, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(out, "PAPER TRADING SIMULATION SUMMARY")
	fmt.Fprintln(out, strings.Repeat("=", 80))

	fmt.Fprintf(out, `
Orders
------
Placed:             %d
Failed:             %d
Closed by trigger:  %d
Trigger failures:   %d
Cancelled:          %d
Duration:           %v

Results (%s)
------------
Total profit:       %.2f
Total loss:         %.2f
Total fees:         %.2f
Win rate:           %.1f%%
Account value:      %.2f -> %.2f

Symbols
-------
`, stats.placed, stats.failed, stats.closedTrigger, stats.triggerFails, stats.cancelled,
		duration.Round(time.Millisecond),
		summary.Currency, summary.TotalProfit, summary.TotalLoss, summary.TotalFees, summary.WinRate,
		start.TotalValueInDisplayCurrency, final.TotalValueInDisplayCurrency)

	names := make([]string, 0, len(stats.symbols))
	maxCount := 0
	for sym, count := range stats.symbols {
		names = append(names, sym)
		if count > maxCount {
			maxCount = count
		}
	}
	sort.Strings(names)
	for _, sym := range names {
		count := stats.symbols[sym]
		fmt.Fprintf(out, "%-6s: %s (%d)\n", sym, strings.Repeat("#", count*20/maxCount), count)
	}
	fmt.Fprintln(out, strings.Repeat("=", 80))
}

// runDemo replays: buy 0.1 BTC at 50000 with a 45000/55000 bracket, drop the
// price to 44000 and show the stop loss close in history
func runDemo(opts *options, out io.Writer) error {
	sc := newSimulationClient(opts.server, nil)
	if err := sc.authenticate(opts.apiKey, opts.apiSecret); err != nil {
		return err
	}

	if _, err := sc.pushPrices(map[string]float64{"BTC": 50000}); err != nil {
		return fmt.Errorf("failed to set BTC price: %w", err)
	}

	exec, err := sc.executeOrder(types.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       types.SideBuy,
		Price:      50000,
		Quantity:   0.1,
		StopLoss:   45000,
		TakeProfit: 55000,
		Currency:   "USD",
	})
	if err != nil {
		return fmt.Errorf("failed to open position: %w", err)
	}
	fmt.Fprintf(out, "opened %s: %s %.4f %s at %.2f (fee %.4f USD)\n",
		exec.OrderID, exec.Side, exec.Quantity, exec.Symbol, exec.Price, exec.FeeValue())

	result, err := sc.pushPrices(map[string]float64{"BTC": 44000})
	if err != nil {
		return fmt.Errorf("failed to push price: %w", err)
	}
	for _, closed := range result.Closed {
		fmt.Fprintf(out, "%s: %s\n", closed.ClosesOrderID, closed.Message)
	}

	order, err := sc.getOrder(exec.OrderID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "order %s is %s with realized PnL %.2f\n", order.OrderID, order.Status, order.PnL)

	summary, err := sc.history(opts.currency)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "history: %d trades, loss %.2f, fees %.2f, win rate %.1f%% (%s)\n",
		len(summary.Trades), summary.TotalLoss, summary.TotalFees, summary.WinRate, summary.Currency)
	return nil
}
