// Command trade executes a single swap and prints its terminal result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"solana-swap-engine/internal/config"
	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/engine"
	"solana-swap-engine/internal/logging"
	"solana-swap-engine/internal/orchestrator"
)

func main() {
	// Parse flags
	configPath := flag.String("config", os.Getenv("SWAP_CONFIG"), "Path to YAML config file")
	in := flag.String("in", "USDC", "Asset to sell (symbol or mint)")
	out := flag.String("out", "", "Asset to buy (symbol or mint, required)")
	amount := flag.String("amount", "", "Amount to sell in whole tokens, e.g. 12.5 (required)")
	decimals := flag.Int("decimals", -1, "Decimals of the input asset; inferred for well-known mints")
	slippage := flag.Int("slippage", -1, "Slippage tolerance in basis points; defaults to engine.default_slippage_bps")
	routeHint := flag.String("route-hint", "", "Route hint, e.g. raydium:<amm id>")
	verbose := flag.Bool("v", false, "Print lifecycle events to stderr")
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[trade] ", log.LstdFlags)

	if *out == "" || *amount == "" {
		logger.Fatal("--out and --amount are required")
	}

	// No journal is kept for one-shot trades.
	os.Setenv("SWAP_STORAGE_USE_MEMORY", "true")
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	req, err := buildRequest(*in, *out, *amount, *decimals, *slippage, *routeHint, cfg.Engine.DefaultSlippageBps)
	if err != nil {
		logger.Fatal(err)
	}

	zl, err := logging.New(cfg.Logging, cfg.App.Name+"-trade")
	if err != nil {
		logger.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := orchestrator.NewNotifier(0)
	defer notifier.Close()
	if *verbose {
		sub := notifier.Subscribe("cli")
		go func() {
			for ev := range sub.C() {
				fmt.Fprintf(os.Stderr, "%s attempt=%d %s %s\n", ev.Stage, ev.Attempt, ev.Signature, ev.Detail)
			}
		}()
	}

	eng, err := engine.New(ctx, cfg, notifier, nil, zl)
	if err != nil {
		logger.Fatalf("init engine: %v", err)
	}
	defer eng.Close()

	res, err := eng.Orchestrator.ExecuteTrade(ctx, req)
	if err != nil {
		logger.Fatalf("trade rejected: %v", err)
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(newOutput(req, res)); err != nil {
			logger.Fatalf("encode result: %v", err)
		}
	} else {
		printResult(req, res)
	}

	if res.Outcome != domain.OutcomeConfirmed {
		os.Exit(2)
	}
}

func buildRequest(in, out, amount string, decimals, slippage int, routeHint string, defaultSlippage uint16) (domain.TradeRequest, error) {
	inputMint, err := domain.ResolveAsset(in)
	if err != nil {
		return domain.TradeRequest{}, fmt.Errorf("--in: %w", err)
	}
	outputMint, err := domain.ResolveAsset(out)
	if err != nil {
		return domain.TradeRequest{}, fmt.Errorf("--out: %w", err)
	}

	d := int32(decimals)
	if decimals < 0 {
		known, ok := domain.KnownDecimals(inputMint)
		if !ok {
			return domain.TradeRequest{}, fmt.Errorf("--decimals is required for %s", inputMint)
		}
		d = known
	}
	units, err := domain.ToBaseUnits(amount, d)
	if err != nil {
		return domain.TradeRequest{}, fmt.Errorf("--amount: %w", err)
	}

	bps := defaultSlippage
	if slippage >= 0 {
		if slippage > domain.MaxSlippageBps {
			return domain.TradeRequest{}, fmt.Errorf("--slippage %d exceeds %d", slippage, domain.MaxSlippageBps)
		}
		bps = uint16(slippage)
	}

	req := domain.TradeRequest{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		InputAmount: units,
		SlippageBps: bps,
		RouteHint:   routeHint,
	}
	return req, req.Validate()
}

type output struct {
	TradeID        string  `json:"trade_id"`
	Outcome        string  `json:"outcome"`
	Signature      string  `json:"signature,omitempty"`
	InputAmount    uint64  `json:"input_amount,string"`
	ExpectedOutput uint64  `json:"expected_output,string"`
	MinimumOutput  uint64  `json:"minimum_output,string"`
	OutputObserved *uint64 `json:"output_observed,string,omitempty"`
	Attempts       int     `json:"attempts"`
	FailureKind    string  `json:"failure_kind,omitempty"`
	FailureReason  string  `json:"failure_reason,omitempty"`
}

func newOutput(req domain.TradeRequest, res domain.TradeResult) output {
	o := output{
		TradeID:        res.TradeID,
		Outcome:        res.Outcome.String(),
		Signature:      res.Signature,
		InputAmount:    req.InputAmount,
		ExpectedOutput: res.ExpectedOutput,
		MinimumOutput:  res.MinimumOutput,
		OutputObserved: res.OutputObserved,
		Attempts:       res.Attempts,
	}
	if res.Failure != nil {
		o.FailureKind = res.Failure.Kind.String()
		o.FailureReason = res.Failure.Error()
	}
	return o
}

func printResult(req domain.TradeRequest, res domain.TradeResult) {
	fmt.Printf("Trade:     %s\n", res.TradeID)
	fmt.Printf("Outcome:   %s\n", res)
	fmt.Printf("Attempts:  %d\n", res.Attempts)
	fmt.Printf("Sold:      %d %s\n", req.InputAmount, req.InputMint)
	if res.ExpectedOutput > 0 {
		fmt.Printf("Expected:  %d %s (min %d)\n", res.ExpectedOutput, req.OutputMint, res.MinimumOutput)
	}
	if res.OutputObserved != nil {
		fmt.Printf("Received:  %d\n", *res.OutputObserved)
	}
	if res.Outcome == domain.OutcomeTimedOut {
		fmt.Println("The transaction may still land; reconcile the signature before retrying.")
	}
}
