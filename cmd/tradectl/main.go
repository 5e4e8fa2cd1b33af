package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/pkg/client"
)

const usage = `usage: tradectl [global flags] <command> [flags]

commands:
  health                                  check service health
  root                                    show the service version (algorithm credentials)
  trade   -address A -type buy|sell -symbol S [-slippage X] [-relative Y]
  buy     -address A [-slippage X] [-relative Y]     single-token contract
  sell    -address A [-slippage X] [-relative Y]     single-token contract
  status  -address A -hash H [-timeout 30s] [-v1]
  register -address A -controller C -version V -chain BSC|RTN -password P [-disabled]
  disable -address A
  algorithm -address A
  transactions -address A [-skip 0] [-limit 50]
  wallets
  create-wallets -count N
  unlock  -address A -symbol S
`

func main() {
	_ = godotenv.Load()

	global := flag.NewFlagSet("tradectl", flag.ExitOnError)
	host := global.String("host", getenv("TRADECTL_HOST", "http://localhost:8080"), "service base URL")
	user := global.String("user", os.Getenv("TRADECTL_USER"), "basic auth user: trading contract address or system user")
	pass := global.String("password", os.Getenv("TRADECTL_PASSWORD"), "basic auth password")
	timeout := global.Duration("http-timeout", 150*time.Second, "request timeout")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}

	opts := []client.Option{client.WithTimeout(*timeout), client.WithRetries(2)}
	if *user != "" {
		opts = append(opts, client.WithBasicAuth(*user, *pass))
	}
	c := client.New(*host, opts...)

	out, err := dispatch(context.Background(), c, args[0], args[1:])
	if err != nil {
		fatal(err)
	}
	if out != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	}
}

func dispatch(ctx context.Context, c *client.Client, cmd string, args []string) (any, error) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	address := fs.String("address", "", "trading contract address")
	symbol := fs.String("symbol", "", "token symbol")
	tradeType := fs.String("type", "", "buy or sell")
	slippage := fs.String("slippage", "", "slippage in [0,1], server default when empty")
	relative := fs.String("relative", "", "relative amount in [0,1], server default when empty")
	hash := fs.String("hash", "", "transaction hash")
	wait := fs.Duration("timeout", 0, "how long the server waits for a receipt")
	v1 := fs.Bool("v1", false, "use the single-token routes")
	controller := fs.String("controller", "", "controller wallet address")
	version := fs.String("version", "2.0", "trading contract version")
	chain := fs.String("chain", "BSC", "chain id")
	password := fs.String("password", "", "algorithm password")
	disabled := fs.Bool("disabled", false, "register disabled")
	skip := fs.Int("skip", 0, "transactions to skip")
	limit := fs.Int("limit", 50, "page size")
	count := fs.Int("count", 1, "wallets to create")
	_ = fs.Parse(args)

	switch cmd {
	case "health":
		if err := c.Health(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "OK"}, nil
	case "root":
		return c.Root(ctx)
	case "trade":
		req, err := tradeRequest(*slippage, *relative)
		if err != nil {
			return nil, err
		}
		if req.TradeType, err = domain.ParseTradeType(*tradeType); err != nil {
			return nil, err
		}
		req.Symbol = *symbol
		return c.Trade(ctx, *address, req)
	case "buy", "sell":
		req, err := tradeRequest(*slippage, *relative)
		if err != nil {
			return nil, err
		}
		return c.TradeV1(ctx, *address, cmd == "buy", req)
	case "status":
		return c.Status(ctx, *address, *hash, *wait, *v1)
	case "register":
		return c.Register(ctx, client.RegisterRequest{
			TradingContractAddress:  *address,
			ControllerWalletAddress: *controller,
			TradingContractVersion:  *version,
			ChainID:                 *chain,
			Disabled:                *disabled,
			UnhashedPassword:        *password,
		})
	case "disable":
		return c.Disable(ctx, *address)
	case "algorithm":
		return c.Algorithm(ctx, *address)
	case "transactions":
		return c.Transactions(ctx, *address, *skip, *limit)
	case "wallets":
		return c.Wallets(ctx)
	case "create-wallets":
		return c.CreateWallets(ctx, *count)
	case "unlock":
		if err := c.ForceUnlock(ctx, *address, *symbol); err != nil {
			return nil, err
		}
		return map[string]string{"status": "OK"}, nil
	default:
		return nil, fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func tradeRequest(slippage, relative string) (client.TradeRequest, error) {
	var req client.TradeRequest
	if slippage != "" {
		d, err := decimal.NewFromString(slippage)
		if err != nil {
			return req, fmt.Errorf("slippage: %w", err)
		}
		req.SlippageAmount = &d
	}
	if relative != "" {
		d, err := decimal.NewFromString(relative)
		if err != nil {
			return req, fmt.Errorf("relative: %w", err)
		}
		req.RelativeAmount = &d
	}
	return req, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
