package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/legacyauth/tokenbridge/auth"
	"github.com/legacyauth/tokenbridge/internal/config"
	"github.com/legacyauth/tokenbridge/internal/replay"
	"github.com/legacyauth/tokenbridge/krypto"
)

const cliVersion = "0.1.0"

const defaultJWTTTL = 15 * time.Minute

type userError struct {
	msg string
}

func (e userError) Error() string { return e.msg }

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Println(cliVersion)
	case "unprotect":
		if err := runUnprotect(os.Args[2:]); err != nil {
			handleError(err)
		}
	case "bridge":
		if err := runBridge(os.Args[2:]); err != nil {
			handleError(err)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func handleError(err error) {
	if err == nil {
		return
	}

	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(os.Stderr, uerr.Error())
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "unexpected error: %v\n", err)
	os.Exit(2)
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// bridgeOptions carries the merged flag/config view a subcommand runs with.
type bridgeOptions struct {
	validationKey string
	decryptionKey string
	primary       string
	specifics     []string
	jwtSecret     string
	jwtIssuer     string
	jwtTTL        time.Duration
	replayDB      string
}

func parseOptions(name string, args []string, wantToken *string) (*bridgeOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfgPath string
	var opts bridgeOptions
	var specifics stringList

	fs.StringVar(&cfgPath, "config", "", "bridge config file")
	fs.StringVar(&opts.validationKey, "vkey", "", "validation key (hex)")
	fs.StringVar(&opts.decryptionKey, "dkey", "", "decryption key (hex)")
	fs.StringVar(&opts.primary, "purpose", "", "primary purpose")
	fs.Var(&specifics, "specific", "specific purpose (repeatable)")
	fs.StringVar(&opts.jwtSecret, "jwt-secret", "", "signing secret for minted tokens")
	fs.StringVar(&opts.jwtIssuer, "jwt-issuer", "", "issuer claim for minted tokens")
	fs.DurationVar(&opts.jwtTTL, "jwt-ttl", 0, "lifetime of minted tokens")
	fs.StringVar(&opts.replayDB, "replay-db", "", "replay guard database path")

	if err := fs.Parse(args); err != nil {
		return nil, userError{msg: "invalid arguments"}
	}
	if fs.NArg() > 1 {
		return nil, userError{msg: "unexpected positional arguments"}
	}
	opts.specifics = specifics

	if cfgPath != "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if opts.validationKey == "" {
			opts.validationKey = cfg.ValidationKey
		}
		if opts.decryptionKey == "" {
			opts.decryptionKey = cfg.DecryptionKey
		}
		if opts.primary == "" {
			opts.primary = cfg.Purpose.Primary
		}
		if len(opts.specifics) == 0 {
			opts.specifics = cfg.Purpose.Specific
		}
		if opts.jwtSecret == "" {
			opts.jwtSecret = cfg.JWT.Secret
		}
		if opts.jwtIssuer == "" {
			opts.jwtIssuer = cfg.JWT.Issuer
		}
		if opts.jwtTTL == 0 {
			opts.jwtTTL = time.Duration(cfg.JWT.TTL)
		}
		if opts.replayDB == "" {
			opts.replayDB = cfg.ReplayDB
		}
	}
	if opts.jwtTTL == 0 {
		opts.jwtTTL = defaultJWTTTL
	}
	if opts.primary == "" {
		return nil, userError{msg: "missing required flag: --purpose (or a config file)"}
	}

	// Keys stay out of argv when the operator prefers: prompt for anything
	// still missing.
	var err error
	if opts.validationKey == "" {
		if opts.validationKey, err = promptSecret("Validation key (hex): "); err != nil {
			return nil, fmt.Errorf("read validation key: %w", err)
		}
	}
	if opts.decryptionKey == "" {
		if opts.decryptionKey, err = promptSecret("Decryption key (hex): "); err != nil {
			return nil, fmt.Errorf("read decryption key: %w", err)
		}
	}

	*wantToken = fs.Arg(0)
	return &opts, nil
}

func readToken(positional string) (string, error) {
	if positional != "" {
		return positional, nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read token from stdin: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", userError{msg: "no token supplied (argument or stdin)"}
	}
	return token, nil
}

func runUnprotect(args []string) error {
	var positional string
	opts, err := parseOptions("unprotect", args, &positional)
	if err != nil {
		return err
	}

	token, err := readToken(positional)
	if err != nil {
		return err
	}

	plaintext, err := unprotectToken(opts, token)
	if err != nil {
		return err
	}

	os.Stdout.Write(plaintext)
	fmt.Println()
	return nil
}

func runBridge(args []string) error {
	var positional string
	opts, err := parseOptions("bridge", args, &positional)
	if err != nil {
		return err
	}
	if opts.jwtSecret == "" {
		if opts.jwtSecret, err = promptSecret("JWT signing secret: "); err != nil {
			return fmt.Errorf("read signing secret: %w", err)
		}
	}

	minter, err := auth.NewMinter(opts.jwtSecret, opts.jwtIssuer, opts.jwtTTL)
	if err != nil {
		if errors.Is(err, auth.ErrShortSecret) {
			return userError{msg: "signing secret must be at least 32 bytes"}
		}
		return fmt.Errorf("configure minter: %w", err)
	}

	token, err := readToken(positional)
	if err != nil {
		return err
	}

	plaintext, err := unprotectToken(opts, token)
	if err != nil {
		return err
	}

	ticket, err := auth.ParseTicket(plaintext)
	if err != nil {
		return userError{msg: "recovered plaintext is not a claims ticket"}
	}

	now := time.Now()
	if err := ticket.Valid(now); err != nil {
		return userError{msg: "ticket has expired"}
	}

	if opts.replayDB != "" {
		store, err := replay.Open(opts.replayDB)
		if err != nil {
			return fmt.Errorf("open replay guard: %w", err)
		}
		defer replay.Close(store)

		if err := replay.Migrate(store); err != nil {
			return fmt.Errorf("initialise replay guard: %w", err)
		}
		if err := replay.Consume(store, token); err != nil {
			if errors.Is(err, replay.ErrReplayed) {
				return userError{msg: "token already exchanged"}
			}
			return fmt.Errorf("record token: %w", err)
		}
	}

	minted, err := minter.Mint(ticket, now)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	fmt.Println(minted)
	return nil
}

func unprotectToken(opts *bridgeOptions, token string) ([]byte, error) {
	u, err := auth.NewUnprotector(opts.validationKey, opts.decryptionKey, opts.primary, opts.specifics...)
	if err != nil {
		return nil, userError{msg: "unprotect failed"}
	}

	plaintext, err := u.UnprotectToken(token)
	if err != nil {
		if errors.Is(err, krypto.ErrUnprotect) {
			return nil, userError{msg: "unprotect failed"}
		}
		return nil, err
	}
	return plaintext, nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	defer zeroBytes(secret)
	return string(secret), nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: tokenbridge <command>")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  version")
	fmt.Fprintln(os.Stderr, "  unprotect [--config <file>] [--vkey <hex> --dkey <hex>] --purpose <name> [--specific <name>]... [token]")
	fmt.Fprintln(os.Stderr, "  bridge    [--config <file>] [--vkey <hex> --dkey <hex>] --purpose <name> [--specific <name>]... [token]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "The token may also be piped on stdin. Keys not supplied via flags or")
	fmt.Fprintln(os.Stderr, "config are prompted for interactively and never echoed.")
}
