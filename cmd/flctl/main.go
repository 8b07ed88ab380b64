// flctl submits and inspects FederatedLearning pallet transactions.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/flchain/call"
	"github.com/colorfulnotion/flchain/chain"
	"github.com/colorfulnotion/flchain/config"
	"github.com/colorfulnotion/flchain/dispatch"
	"github.com/colorfulnotion/flchain/fedlearn"
	"github.com/colorfulnotion/flchain/journal"
	log "github.com/colorfulnotion/flchain/log"
	"github.com/colorfulnotion/flchain/metrics"
	"github.com/colorfulnotion/flchain/registry"
	"github.com/colorfulnotion/flchain/signer"
	"github.com/colorfulnotion/flchain/storage"
	"github.com/colorfulnotion/flchain/telemetry"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

const keystorePasswordEnv = "FLCTL_KEYSTORE_PASSWORD"

// app holds the flag values and the wiring shared by every subcommand.
type app struct {
	configPath   string
	endpoint     string
	scheme       string
	timeout      time.Duration
	logLevel     string
	debug        string
	metricsAddr  string
	keystoreDir  string
	walletRPC    string
	liveMetadata bool
	jsonOutput   bool

	cfg      *config.Config
	manager  *chain.Manager
	reg      *registry.Registry
	journal  *journal.Journal
	svc      *fedlearn.Service
	closers  []func()
	shutdown func(context.Context) error
}

func main() {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "flctl",
		Short:         "Federated learning chain client",
		Version:       fmt.Sprintf("%s (%s, %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "flctl.toml", "Path to the TOML configuration file")
	pf.StringVar(&a.endpoint, "endpoint", chain.DefaultEndpoint, "Node websocket RPC endpoint")
	pf.StringVar(&a.scheme, "scheme", "ethereum", "Signature encoding for raw signers (ethereum or ecdsa)")
	pf.DurationVar(&a.timeout, "timeout", 0, "Finality timeout (0 waits until interrupted)")
	pf.StringVar(&a.logLevel, "log-level", "info", "Log level")
	pf.StringVar(&a.debug, "debug", "", "Debug modules to enable (chain,signer,dispatch,fl,cli)")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	pf.StringVar(&a.keystoreDir, "keystore", "", "Directory of encrypted keys exposed as the keystore wallet")
	pf.StringVar(&a.walletRPC, "wallet-rpc", "", "JSON-RPC URL of an external signer exposed as the manual wallet")
	pf.BoolVar(&a.liveMetadata, "live-metadata", false, "Read the runtime description from the node instead of the bundled one")
	pf.BoolVar(&a.jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(
		a.submitLocalModelCmd(),
		a.updateGlobalModelCmd(),
		a.forceAuthorizeCmd(),
		a.forceUnauthorizeCmd(),
		a.queryCmd(),
		a.recordsCmd(),
		a.eventsCmd(),
		a.walletsCmd(),
		a.accountsCmd(),
		a.devAccountsCmd(),
		a.addressCmd(),
		a.hashCmd(),
		a.verifyCmd(),
		a.historyCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		os.Exit(exitCode(err))
	}
}

// loadConfig reads the config file and lets explicitly set flags win.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Endpoint = a.endpoint
	}
	if flags.Changed("scheme") {
		cfg.SignatureScheme = a.scheme
	}
	if flags.Changed("timeout") {
		cfg.FinalityTimeout = int(a.timeout / time.Second)
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("debug") {
		cfg.LogModules = a.debug
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddress = a.metricsAddr
	}
	if flags.Changed("keystore") {
		cfg.KeystoreDir = a.keystoreDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if err := log.InitLogger(cfg.LogLevel, cfg.LogJSON); err != nil {
		return err
	}
	log.EnableModules(cfg.LogModules)
	return nil
}

// service builds the connection, wallets and submission pipeline on first
// use so offline commands never dial.
func (a *app) service(ctx context.Context) (*fedlearn.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	cfg := a.cfg

	shutdown, err := telemetry.Init(ctx, telemetry.Config{ServiceName: "flctl", Endpoint: cfg.OTLPEndpoint, Insecure: true})
	if err != nil {
		return nil, err
	}
	a.shutdown = shutdown
	if cfg.MetricsAddress != "" {
		a.serveMetrics(cfg.MetricsAddress)
	}

	a.manager = chain.NewManager(cfg.Endpoint)
	a.closers = append(a.closers, func() { a.manager.Close() })
	if a.reg, err = a.registry(ctx); err != nil {
		return nil, err
	}

	resolverOpts, err := a.wallets(ctx)
	if err != nil {
		return nil, err
	}
	trackerOpts := []dispatch.Option{
		dispatch.WithTimeout(cfg.Timeout()),
		dispatch.WithEraPeriod(cfg.EraPeriod),
		dispatch.WithObserver(func(t dispatch.Transition) {
			log.Info(log.CLIModule, "status", "from", t.From, "to", t.To, "pool", t.PoolStatus, "block", t.BlockHash.Hex())
		}),
	}
	svcOpts := []fedlearn.Option{fedlearn.WithScheme(cfg.Scheme())}
	if j, err := a.openJournal(); err != nil {
		log.Warn(log.CLIModule, "history disabled", "err", err)
	} else {
		svcOpts = append(svcOpts, fedlearn.WithJournal(j))
	}

	a.svc = fedlearn.New(
		signer.NewResolver(resolverOpts...),
		call.NewBuilder(a.reg, cfg.Pallet),
		dispatch.NewTracker(a.manager, a.reg, trackerOpts...),
		storage.NewQuerier(a.manager, a.reg, cfg.Pallet),
		svcOpts...,
	)
	return a.svc, nil
}

func (a *app) registry(ctx context.Context) (*registry.Registry, error) {
	switch {
	case a.cfg.RegistryFile != "":
		return registry.LoadFile(a.cfg.RegistryFile)
	case a.liveMetadata:
		conn, err := a.manager.EnsureOpen(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := chain.NewClient(conn).GetMetadata(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch metadata: %w", err)
		}
		return registry.FromMetadata(raw)
	}
	return registry.Default()
}

// wallets registers the optional keystore and external signer backends.
func (a *app) wallets(ctx context.Context) ([]signer.ResolverOption, error) {
	var opts []signer.ResolverOption
	if a.walletRPC != "" {
		p, err := signer.DialRPCProvider(ctx, a.walletRPC)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		opts = append(opts, signer.WithProvider(signer.BackendManual, p))
	}
	if a.cfg.KeystoreDir != "" {
		kr := signer.NewKeyring(signer.BackendKeystore, signer.WithScheme(a.cfg.Scheme()))
		n, err := kr.LoadKeystore(a.cfg.KeystoreDir, os.Getenv(keystorePasswordEnv))
		if err != nil {
			return nil, fmt.Errorf("load keystore %s: %w", a.cfg.KeystoreDir, err)
		}
		log.Info(log.CLIModule, "keystore loaded", "dir", a.cfg.KeystoreDir, "accounts", n)
		opts = append(opts, signer.WithExtensionHost(signer.StaticHost{kr}))
	}
	return opts, nil
}

func (a *app) openJournal() (*journal.Journal, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	if a.cfg.JournalPath == "" {
		return nil, errors.New("no JournalPath configured")
	}
	j, err := journal.Open(a.cfg.JournalPath)
	if err != nil {
		return nil, err
	}
	a.journal = j
	a.closers = append(a.closers, func() { j.Close() })
	return j, nil
}

func (a *app) serveMetrics(addr string) {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(log.CLIModule, "metrics server stopped", "addr", addr, "err", err)
		}
	}()
	a.closers = append(a.closers, func() { srv.Close() })
	log.Info(log.CLIModule, "serving metrics", "addr", addr)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			log.Warn(log.CLIModule, "telemetry shutdown", "err", err)
		}
	}
}
