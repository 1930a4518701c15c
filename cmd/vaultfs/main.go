// Command vaultfs exposes a local directory as an encrypted,
// size-obfuscating virtual filesystem served over loopback FTP.
//
// Subcommand dispatch by first positional argument, matching the
// original implementation's structopt Opt enum (src/cli.rs) translated
// to Go idiom with github.com/spf13/pflag per-subcommand flag sets.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/nainya/vaultfs/internal/config"
	"github.com/nainya/vaultfs/internal/ftpd"
	"github.com/nainya/vaultfs/internal/logger"
	"github.com/nainya/vaultfs/internal/metrics"
	"github.com/nainya/vaultfs/internal/obs"
	"github.com/nainya/vaultfs/internal/pagestore"
	"github.com/nainya/vaultfs/internal/vfs"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "fsck":
		err = runFsck(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "vaultfs: unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "vaultfs: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vaultfs <init|serve|fsck> [flags] [DIR]")
}

func newLogger() *logger.Logger {
	return logger.NewLogger(logger.Config{
		Level:  envOr("VAULTFS_LOG", "info"),
		Pretty: term.IsTerminal(int(os.Stderr.Fd())),
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dirArg(fs *pflag.FlagSet) (string, error) {
	args := fs.Args()
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", dir, err)
	}
	return abs, nil
}

// runInit implements "vaultfs init", matching src/cli.rs's init_cmd.
func runInit(args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ExitOnError)
	blockSizeKB := fs.Uint16("block-size-kb", config.DefaultBlockSizeKB, "block size in KB; 0 disables paging (do not hide file size information)")
	noEncrypt := fs.Bool("no-encrypt", false, "disable encryption")
	scryptLogN := fs.Uint8("scrypt-log-n", config.DefaultScryptLogN, "log2 of the scrypt N parameter")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dir, err := dirArg(fs)
	if err != nil {
		return err
	}

	if _, err := config.Init(dir, *blockSizeKB, !*noEncrypt, *scryptLogN); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "initialized %s\n", dir)
	return nil
}

// runServe implements "vaultfs serve", matching src/cli.rs's serve_cmd.
func runServe(args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ExitOnError)
	address := fs.StringP("address", "a", "127.0.0.1:7968", "FTP service address")
	metricsAddr := fs.String("metrics-addr", "", "if set, serve Prometheus metrics and health endpoints on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dir, err := dirArg(fs)
	if err != nil {
		return err
	}

	log := newLogger()
	zlog := *log.GetZerolog()

	cfg, err := config.Open(dir)
	if err != nil {
		return err
	}

	m := metrics.NewMetrics()

	keyFn := func() ([32]byte, error) {
		password, err := promptPassword()
		if err != nil {
			return [32]byte{}, err
		}
		return config.DeriveKey(password, cfg)
	}

	st, err := config.BuildStore(dir, cfg, keyFn, log, m)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}

	svc := vfs.New(st, *log.StoreLogger("vfs").GetZerolog())

	var obsServer *obs.Server
	if *metricsAddr != "" {
		obsServer = obs.New(*metricsAddr, zlog)
		go func() {
			if err := obsServer.Start(); err != nil {
				log.Error("observability server failed").Err(err).Send()
			}
		}()
	}

	ftpServer, err := ftpd.NewServer(svc, *address, log, m)
	if err != nil {
		return fmt.Errorf("build ftp server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "writing changes on Ctrl+C...")
		if err := svc.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "flush failed: %v\n", err)
			os.Exit(1)
		}
		if obsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = obsServer.Shutdown(ctx)
		}
		log.LogServerShutdown()
		os.Exit(0)
	}()

	log.LogServerStart(*address, dir)
	fmt.Fprintf(os.Stderr, "serving %s at ftp://%s\n", dir, *address)
	log.LogServerReady(*address)
	return ftpServer.ListenAndServe()
}

// runFsck implements "vaultfs fsck", the supplemented maintenance
// command grounded on the original's debug_assertions-gated
// PageIntKv::verify() (see SPEC_FULL.md §4.4).
func runFsck(args []string) error {
	fs := pflag.NewFlagSet("fsck", pflag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	dir, err := dirArg(fs)
	if err != nil {
		return err
	}

	log := newLogger()

	cfg, err := config.Open(dir)
	if err != nil {
		return err
	}

	keyFn := func() ([32]byte, error) {
		password, err := promptPassword()
		if err != nil {
			return [32]byte{}, err
		}
		return config.DeriveKey(password, cfg)
	}

	st, err := config.BuildStore(dir, cfg, keyFn, log, nil)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}

	pageStore, ok := st.(*pagestore.Store)
	if !ok {
		fmt.Fprintln(os.Stderr, "fsck: paging layer disabled (block-size-kb=0); nothing to verify")
		return nil
	}
	if err := pageStore.Verify(); err != nil {
		return fmt.Errorf("fsck found an inconsistency: %w", err)
	}
	fmt.Fprintln(os.Stderr, "fsck: ok")
	return nil
}

// promptPassword reads a password from the controlling terminal without
// echoing it, matching src/cli.rs's rpassword::read_password_from_tty.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(data), nil
}
