// Command escrowctl is the command-line client for escrowd. It manages caller
// keys and sends signed requests.
//
// Usage:
//
//	escrowctl [global flags] <command> [command flags]
//
// The signing key is read from ESCROW_PRIVATE_KEY, or from the encrypted key
// file given by -key-file (password in ESCROW_KEY_PASSWORD).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/escrowmarket/internal/client"
	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

const usage = `usage: escrowctl [-server URL] [-key-file PATH] <command> [flags]

commands:
  keygen          generate a key (-out PATH writes it encrypted)
  address         print the signer's address
  create-market   -fee-rate N
  market          -market ADDR
  listings        -market ADDR [-active]
  list            -market ADDR -asset ADDR -ask N
  quote|buy|ask|close  -market ADDR -asset ADDR -seller ADDR [-bid N] [-amount N]
  withdraw        -market ADDR -amount N [-to ADDR]
  wallet          [-address ADDR]
  accounts        [-address ADDR]
  airdrop         -amount N [-to ADDR]   (development faucet)
  mint                                   (development faucet)
`

func main() {
	_ = godotenv.Load()

	global := flag.NewFlagSet("escrowctl", flag.ExitOnError)
	serverURL := global.String("server", envOr("ESCROW_SERVER_URL", "http://localhost:8080"), "escrowd base URL")
	keyFile := global.String("key-file", os.Getenv("ESCROW_KEY_FILE"), "encrypted key file")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *serverURL, *keyFile, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "escrowctl: %v\n", err)
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, serverURL, keyFile, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	var (
		market  = fs.String("market", "", "market address")
		asset   = fs.String("asset", "", "asset id")
		seller  = fs.String("seller", "", "seller address")
		addr    = fs.String("address", "", "address to inspect (default: signer)")
		to      = fs.String("to", "", "destination address")
		out     = fs.String("out", "", "write an encrypted key file")
		feeRate = fs.Uint64("fee-rate", 0, "fee rate over the fee scalar")
		ask     = fs.Uint64("ask", 0, "asking price")
		amount  = fs.Uint64("amount", 0, "amount")
		bid     = fs.Uint64("bid", 0, "maximum accepted ask (0 = no limit)")
		active  = fs.Bool("active", false, "only unsold listings")
	)
	_ = fs.Parse(args)

	if cmd == "keygen" {
		return keygen(*out)
	}
	// A key file names its address, so no password is needed to print it.
	if cmd == "address" && keyFile != "" && os.Getenv("ESCROW_PRIVATE_KEY") == "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return err
		}
		a, err := crypto.KeyFileAddress(data)
		if err != nil {
			return err
		}
		fmt.Println(a.Hex())
		return nil
	}

	signer, err := loadSigner(keyFile)
	if err != nil && needsSigner(cmd) {
		return err
	}
	c := client.New(serverURL, signer)

	key := func() (domain.ListingKey, error) {
		m, err := parseAddress("market", *market)
		if err != nil {
			return domain.ListingKey{}, err
		}
		a, err := parseAddress("asset", *asset)
		if err != nil {
			return domain.ListingKey{}, err
		}
		s, err := parseAddress("seller", *seller)
		if err != nil {
			return domain.ListingKey{}, err
		}
		return domain.ListingKey{Market: m, AssetID: a, Seller: s}, nil
	}
	subject := func() (common.Address, error) {
		if *addr != "" {
			return parseAddress("address", *addr)
		}
		if signer == nil {
			return common.Address{}, errors.New("-address is required without a signing key")
		}
		return signer.Address(), nil
	}
	optionalTo := func() (*common.Address, error) {
		if *to == "" {
			return nil, nil
		}
		a, err := parseAddress("to", *to)
		return &a, err
	}

	switch cmd {
	case "address":
		fmt.Println(signer.Address().Hex())
		return nil

	case "create-market":
		return printResult(c.CreateMarket(ctx, *feeRate))

	case "market":
		m, err := parseAddress("market", *market)
		if err != nil {
			return err
		}
		return printResult(c.GetMarket(ctx, m))

	case "listings":
		m, err := parseAddress("market", *market)
		if err != nil {
			return err
		}
		return printResult(c.ListListings(ctx, m, *active, domain.ListOpts{Limit: 500}))

	case "list":
		m, err := parseAddress("market", *market)
		if err != nil {
			return err
		}
		a, err := parseAddress("asset", *asset)
		if err != nil {
			return err
		}
		return printResult(c.CreateListing(ctx, settlement.CreateListingRequest{Market: m, AssetID: a, Ask: *ask}))

	case "quote", "buy", "ask", "close":
		k, err := key()
		if err != nil {
			return err
		}
		switch cmd {
		case "quote":
			return printResult(c.Quote(ctx, k))
		case "buy":
			var maxAsk *uint64
			if *bid > 0 {
				maxAsk = bid
			}
			return printResult(c.Buy(ctx, k, maxAsk))
		case "ask":
			return printResult(c.Ask(ctx, k, *amount))
		default:
			return printResult(c.CloseListing(ctx, k))
		}

	case "withdraw":
		m, err := parseAddress("market", *market)
		if err != nil {
			return err
		}
		dest, err := optionalTo()
		if err != nil {
			return err
		}
		return printResult(c.WithdrawFees(ctx, m, *amount, dest))

	case "wallet", "accounts":
		a, err := subject()
		if err != nil {
			return err
		}
		if cmd == "wallet" {
			return printResult(c.GetWallet(ctx, a))
		}
		return printResult(c.ListTokenAccounts(ctx, a))

	case "airdrop":
		dest, err := optionalTo()
		if err != nil {
			return err
		}
		return printResult(c.Airdrop(ctx, dest, *amount))

	case "mint":
		return printResult(c.MintAsset(ctx))

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func needsSigner(cmd string) bool {
	switch cmd {
	case "market", "listings", "quote", "wallet", "accounts":
		return false
	}
	return true
}

func loadSigner(keyFile string) (*crypto.Signer, error) {
	hexKey, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    os.Getenv("ESCROW_PRIVATE_KEY"),
		EncryptedKeyPath: keyFile,
		KeyPassword:      os.Getenv("ESCROW_KEY_PASSWORD"),
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(hexKey)
}

func keygen(out string) error {
	hexKey, addr, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	if out == "" {
		fmt.Printf("address:     %s\nprivate key: %s\n", addr.Hex(), hexKey)
		return nil
	}
	password := os.Getenv("ESCROW_KEY_PASSWORD")
	if password == "" {
		return errors.New("set ESCROW_KEY_PASSWORD to encrypt the key file")
	}
	if err := crypto.WriteEncryptedKey(out, hexKey, password); err != nil {
		return err
	}
	fmt.Printf("address: %s\nkey written to %s\n", addr.Hex(), out)
	return nil
}

func parseAddress(name, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("-%s must be a hex address, got %q", name, v)
	}
	return common.HexToAddress(v), nil
}

func printResult[T any](v T, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
