// Command paycorectl reads and administers a deployed PaymentCore contract.
//
// Connection settings come from the environment (PAYCORE_RPC_URL,
// PAYCORE_CONTRACT, PAYCORE_CHAIN_ID, PAYCORE_HEX_SEED), optionally loaded
// from a dotenv file. Writes require PAYCORE_HEX_SEED.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/vitwit/paycore/access"
	"github.com/vitwit/paycore/clients"
	"github.com/vitwit/paycore/types"
	"github.com/vitwit/paycore/utils"
)

const usage = `usage: paycorectl [flags] <command> [args]

reads:
  version
  fee
  treasury
  tokens
  token <address>
  calc-fee <amount>
  has-role <PG_ADMIN_ROLE|PG_RELAYER_ROLE> <account>
  balance <token> <owner>

writes:
  add-token <address> <symbol>
  remove-token <address>
  set-fee <basis-points>
  set-treasury <address>
  grant-admin <account>
  revoke-admin <account>
  pay <payer> <payee> <token> <amount>

flags:
`

type cli struct {
	client   *clients.PaymentCoreClient
	decimals int
}

func main() {
	os.Exit(realMain(os.Args[1:], os.Stderr))
}

// realMain runs one command and returns the process exit code, so deferred
// cleanup runs before the process exits.
func realMain(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("paycorectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env-file", ".env", "Optional dotenv file")
	decimals := fs.Int("decimals", -1, "Token decimals for amounts; -1 means raw base units")
	timeout := fs.Duration("timeout", 60*time.Second, "Overall command timeout")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return report(stderr, fmt.Errorf("load %s: %w", *envFile, err))
	}

	cfg, err := utils.ClientConfigFromEnv()
	if err != nil {
		return report(stderr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := clients.NewPaymentCoreClient(ctx, *cfg)
	if err != nil {
		return report(stderr, err)
	}
	defer client.Close()

	c := &cli{client: client, decimals: *decimals}
	if err := c.run(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		return report(stderr, err)
	}
	return 0
}

// report prints err with its paycore error code, if any, and returns exit code 1.
func report(w io.Writer, err error) int {
	var perr *types.PaycoreError
	if errors.As(err, &perr) {
		fmt.Fprintf(w, "paycorectl: %s: %s\n", perr.Code, err)
	} else {
		fmt.Fprintf(w, "paycorectl: %v\n", err)
	}
	return 1
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "version":
		if err := want(args, 0); err != nil {
			return err
		}
		v, err := c.client.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)

	case "fee":
		if err := want(args, 0); err != nil {
			return err
		}
		bps, err := c.client.ProtocolFee(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d bps (%s%%)\n", bps, utils.FormatUnits(new(big.Int).SetUint64(bps), 2))

	case "treasury":
		if err := want(args, 0); err != nil {
			return err
		}
		a, err := c.client.TreasuryWallet(ctx)
		if err != nil {
			return err
		}
		fmt.Println(a.Hex())

	case "tokens":
		if err := want(args, 0); err != nil {
			return err
		}
		tokens, err := c.client.SupportedTokens(ctx)
		if err != nil {
			return err
		}
		for _, t := range tokens {
			info, err := c.client.SupportedToken(ctx, t)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", t.Hex(), info.Symbol)
		}

	case "token":
		if err := want(args, 1); err != nil {
			return err
		}
		token, err := utils.ParseAddress(args[0])
		if err != nil {
			return err
		}
		info, err := c.client.SupportedToken(ctx, token)
		if err != nil {
			return err
		}
		out, err := utils.NormalizeJSON(info)
		if err != nil {
			return err
		}
		fmt.Println(string(out))

	case "calc-fee":
		if err := want(args, 1); err != nil {
			return err
		}
		amount, err := c.amount(args[0])
		if err != nil {
			return err
		}
		f, err := c.client.CalculateProtocolFees(ctx, amount)
		if err != nil {
			return err
		}
		fmt.Printf("fee=%s net=%s\n", c.format(f), c.format(new(big.Int).Sub(amount, f)))

	case "has-role":
		if err := want(args, 2); err != nil {
			return err
		}
		role, err := access.ParseRole(strings.ToUpper(args[0]))
		if err != nil {
			return err
		}
		account, err := utils.ParseAddress(args[1])
		if err != nil {
			return err
		}
		ok, err := c.client.HasRole(ctx, role, account)
		if err != nil {
			return err
		}
		fmt.Println(ok)

	case "balance":
		if err := want(args, 2); err != nil {
			return err
		}
		token, err := utils.ParseAddress(args[0])
		if err != nil {
			return err
		}
		owner, err := utils.ParseAddress(args[1])
		if err != nil {
			return err
		}
		b, err := c.client.Tokens().BalanceOf(ctx, token, owner)
		if err != nil {
			return err
		}
		a, err := c.client.Tokens().Allowance(ctx, token, owner, c.client.Address())
		if err != nil {
			return err
		}
		fmt.Printf("balance=%s allowance=%s\n", c.format(b), c.format(a))

	case "add-token":
		if err := want(args, 2); err != nil {
			return err
		}
		token, err := utils.ParseAddress(args[0])
		if err != nil {
			return err
		}
		return c.sent(c.client.AddSupportedToken(ctx, token, args[1]))

	case "remove-token":
		if err := want(args, 1); err != nil {
			return err
		}
		token, err := utils.ParseAddress(args[0])
		if err != nil {
			return err
		}
		return c.sent(c.client.RemoveSupportedToken(ctx, token))

	case "set-fee":
		if err := want(args, 1); err != nil {
			return err
		}
		bps, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid basis points %q: %w", args[0], err)
		}
		return c.sent(c.client.SetProtocolFee(ctx, bps))

	case "set-treasury":
		if err := want(args, 1); err != nil {
			return err
		}
		a, err := utils.ParseAddress(args[0])
		if err != nil {
			return err
		}
		return c.sent(c.client.SetTreasuryWallet(ctx, a))

	case "grant-admin", "revoke-admin":
		if err := want(args, 1); err != nil {
			return err
		}
		a, err := utils.ParseAddress(args[0])
		if err != nil {
			return err
		}
		if cmd == "grant-admin" {
			return c.sent(c.client.GrantAdmin(ctx, a))
		}
		return c.sent(c.client.RevokeAdmin(ctx, a))

	case "pay":
		if err := want(args, 4); err != nil {
			return err
		}
		var addrs [3]common.Address
		for i := range addrs {
			a, err := utils.ParseAddress(args[i])
			if err != nil {
				return err
			}
			addrs[i] = a
		}
		amount, err := c.amount(args[3])
		if err != nil {
			return err
		}
		return c.sent(c.client.ProcessPayment(ctx, &types.PaymentIntent{
			Payer:  addrs[0],
			Payee:  addrs[1],
			Token:  addrs[2],
			Amount: amount,
		}))

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func want(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return nil
}

func (c *cli) amount(s string) (*big.Int, error) {
	if c.decimals < 0 {
		return utils.ValidateBigInt(s)
	}
	return utils.ParseUnits(s, int32(c.decimals))
}

func (c *cli) format(v *big.Int) string {
	if c.decimals < 0 {
		return v.String()
	}
	return utils.FormatUnits(v, int32(c.decimals))
}

func (c *cli) sent(tx common.Hash, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(tx.Hex())
	return nil
}
