// Package main is the entry point for the bridgessh server.
//
// Usage:
//
//	bridgessh                  # Start the server
//	bridgessh serve            # Start the server
//	bridgessh keys             # Load or generate host keys and print fingerprints
//	bridgessh config init      # Write the default configuration file
//
// The log level is read from LOG_LEVEL (debug, info, warn, error) and
// defaults to info; --debug forces debug.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"bridgessh/internal/config"
	"bridgessh/internal/hostkey"
	"bridgessh/internal/server"
	"bridgessh/internal/sshid"
)

// Version is the server version advertised in the identification string.
var Version = "0.1.0"

var log = logging.Logger("bridgessh")

type options struct {
	configPath string
	keysDir    string
	addr       string
	maxClients int
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// softwareLabel is the software part of the server identification string.
func softwareLabel() string {
	return "BridgeSSH_v" + Version
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "bridgessh",
		Short: "BridgeSSH - SSH server",
		Long: `bridgessh accepts SSH connections, presents its host keys and performs
the protocol identification exchange with every client.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(opts.debug)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&opts.keysDir, "keys-dir", "", "override host key directory")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")
	root.Flags().StringVarP(&opts.addr, "listen", "l", "", "override listen address")
	root.Flags().IntVar(&opts.maxClients, "max-clients", 0, "override maximum concurrent clients")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the SSH server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	serve.Flags().StringVarP(&opts.addr, "listen", "l", "", "override listen address")
	serve.Flags().IntVar(&opts.maxClients, "max-clients", 0, "override maximum concurrent clients")

	keys := &cobra.Command{
		Use:   "keys",
		Short: "Load or generate host keys and print their fingerprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeys(cmd, opts)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, opts)
		},
	})

	root.AddCommand(serve, keys, configCmd)
	return root
}

func setupLogging(debug bool) error {
	level := logging.LevelInfo
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		l, err := logging.LevelFromString(v)
		if err != nil {
			return fmt.Errorf("LOG_LEVEL: %w", err)
		}
		level = l
	}
	if debug {
		level = logging.LevelDebug
	}
	logging.SetAllLoggers(level)
	return nil
}

func loadSettings(opts *options) (*config.Settings, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.keysDir != "" {
		cfg.KeysDir = opts.keysDir
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.maxClients != 0 {
		cfg.Server.MaxClients = opts.maxClients
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, opts *options) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadSettings(opts)
	if err != nil {
		return err
	}

	keys, err := hostkey.Load(cfg.KeysDir, hostkey.SystemRandom())
	if err != nil {
		return fmt.Errorf("failed to load host keys: %w", err)
	}
	log.Infof("loaded %d host keys", keys.Len())
	log.Debugf("host key algorithms: %v", keys.Algorithms())
	log.Debugf("key exchange methods: %v", hostkey.KexAlgorithms())

	banner, err := sshid.New(softwareLabel())
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server, keys, banner)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	log.Info("Shutting down...")
	return nil
}

func runKeys(cmd *cobra.Command, opts *options) error {
	cfg, err := loadSettings(opts)
	if err != nil {
		return err
	}

	keys, err := hostkey.Load(cfg.KeysDir, hostkey.SystemRandom())
	if err != nil {
		return fmt.Errorf("failed to load host keys: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, alg := range keys.Algorithms() {
		k, _ := keys.Get(alg)
		fmt.Fprintf(out, "%s %s %s\n", alg.ID(), hostkey.Fingerprint(k), hostkey.Path(cfg.KeysDir, alg))
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, opts *options) error {
	path := opts.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
