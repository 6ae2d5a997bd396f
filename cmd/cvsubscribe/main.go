// Package main provides the cvsubscribe command: it subscribes to vehicle
// data at a distribution service and serves the control API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZentaChain/cvcomm/pkg/config"
	"github.com/ZentaChain/cvcomm/pkg/dialog"
	"github.com/ZentaChain/cvcomm/pkg/logging"
	"github.com/ZentaChain/cvcomm/pkg/protocol"
	"github.com/ZentaChain/cvcomm/pkg/security"
)

var rootCmd = &cobra.Command{
	Use:   "cvsubscribe",
	Short: "Connected-vehicle data subscription client",
	Long: `cvsubscribe establishes trust with a data distribution service over UDP,
requests and cancels data subscriptions, and delivers queued bundles to
vehicles directly or through a forwarder.`,
	SilenceUsage: true,
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Request a data subscription",
	Args:  cobra.NoArgs,
	RunE:  runSubscribe,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <subscription-id>",
	Short: "Cancel a data subscription",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API and the bundle delivery loop",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var (
	configPath string
	verbose    bool
	remoteHost string
	remotePort int
	secure     bool
	apiPort    int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&remoteHost, "remote-host", "", "override the distribution service host")
	rootCmd.PersistentFlags().IntVar(&remotePort, "remote-port", 0, "override the distribution service port")
	rootCmd.PersistentFlags().BoolVar(&secure, "secure", false, "sign requests and require signed responses")

	serveCmd.Flags().IntVar(&apiPort, "api-port", 0, "override the HTTP API port")

	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("remote-host") {
		cfg.Subscription.RemoteHost = remoteHost
	}
	if flags.Changed("remote-port") {
		cfg.Subscription.RemotePort = remotePort
	}
	if flags.Changed("secure") {
		cfg.Subscription.Secure = secure
	}
	if flags.Changed("api-port") {
		cfg.API.Port = apiPort
	}
	if verbose {
		cfg.Log.Level = logging.Verbose(true)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Development)
}

// newSubscription builds the subscription engine from cfg. The certificate
// store is only populated when secure mode is on.
func newSubscription(cfg *config.Config, logger *zap.Logger) (*dialog.Subscription, error) {
	dcfg, err := cfg.Subscription.DialogConfig()
	if err != nil {
		return nil, err
	}

	var provider security.Provider
	if dcfg.Secure {
		store := security.NewCertificateStore(logger)
		if err := cfg.LoadCertificates(store); err != nil {
			return nil, err
		}
		p, err := security.NewEd25519Provider(store, cfg.Subscription.Signer, logger)
		if err != nil {
			return nil, err
		}
		p.RequireTrusted = cfg.Subscription.RequireTrusted
		provider = p
		logger.Info("secure mode enabled", zap.Int("certificates", store.Len()))
	}

	counter := dialog.NewRequestCounter(cfg.Subscription.InitialRequestID)
	return dialog.NewSubscription(dcfg, protocol.NewBinaryCodec(), provider, counter, logger)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sub, err := newSubscription(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	id, err := sub.Subscribe(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Subscription ID: %d\n", id)
	fmt.Printf("Request ID: %d\n", sub.RequestID())
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid subscription id %q: %w", args[0], err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sub, err := newSubscription(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := sub.Cancel(ctx, protocol.TemporaryID(id)); err != nil {
		return err
	}

	fmt.Printf("Subscription %d cancelled\n", id)
	return nil
}
