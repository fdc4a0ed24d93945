package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wufi/storefront-checkout/internal/app"
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/config"
	"github.com/wufi/storefront-checkout/internal/session"
	"github.com/wufi/storefront-checkout/internal/tui"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "checkout",
		Short:         "wufi storefront checkout service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to the YAML config file")

	root.AddCommand(newServeCmd(opts), newTUICmd(opts), newConfigCmd(opts))
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", o.configPath, err)
	}
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newServeCmd runs the HTTP API until SIGINT or SIGTERM.
func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the checkout HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}
			a, err := app.New(cfg, app.Options{ConfigPath: opts.configPath})
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Override server.listen_addr")
	return cmd
}

// demoForm is a complete Danish private-customer checkout.
func demoForm() map[checkout.StepID]checkout.FormData {
	return map[checkout.StepID]checkout.FormData{
		checkout.StepAddress: {
			"email":                         "hund@wufi.dk",
			"shipping_address.first_name":   "Ida",
			"shipping_address.last_name":    "Jensen",
			"shipping_address.address_1":    "Nørrebrogade 12",
			"shipping_address.city":         "København N",
			"shipping_address.postal_code":  "2200",
			"shipping_address.country_code": "DK",
		},
		checkout.StepDelivery: {"shipping_method_id": "so_pakkeshop"},
		checkout.StepPayment:  {"provider_id": "pp_system_default"},
	}
}

func prefill(s *session.Session) error {
	for id, form := range demoForm() {
		step, ok := s.Step(id)
		if !ok {
			continue
		}
		if err := step.SetFields(form); err != nil {
			return fmt.Errorf("prefill %s: %w", id, err)
		}
	}
	return nil
}

// Demo runs of the simulated backend get random latency and failures
// unless the config sets its own.
const (
	demoJitter      = "400ms"
	demoFailureRate = 0.1
)

func demoSimulation(cfg *config.Config, seed uint64) {
	if cfg.Backend.Mode != config.BackendSimulated {
		return
	}
	if cfg.Backend.SimulatedJitter == "" {
		cfg.Backend.SimulatedJitter = demoJitter
	}
	if cfg.Backend.SimulatedFailureRate == 0 {
		cfg.Backend.SimulatedFailureRate = demoFailureRate
	}
	if seed != 0 {
		cfg.Backend.SimulatedSeed = seed
	}
}

func newTUICmd(opts *rootOptions) *cobra.Command {
	var (
		cartID string
		demo   bool
		seed   uint64
	)
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Walk through a checkout session in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if demo {
				demoSimulation(cfg, seed)
			}
			a, err := app.New(cfg, app.Options{Logger: zap.NewNop()})
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			defer a.Close(context.Background())

			s, _, err := a.Sessions().Open(ctx, cartID)
			if err != nil {
				return err
			}
			if demo {
				if err := prefill(s); err != nil {
					return err
				}
			}
			return tui.Run(ctx, s.Orchestrator)
		},
	}
	cmd.Flags().StringVar(&cartID, "cart", "cart_demo", "Cart ID of the session")
	cmd.Flags().BoolVar(&demo, "demo", false, "Prefill the forms and simulate a flaky store API")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Seed of the simulated latency and failures in demo mode")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			out, err := cfg.Redacted()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(opts.configPath); err == nil {
				return fmt.Errorf("%s already exists", opts.configPath)
			}
			if err := config.DefaultConfig().Save(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.configPath)
			return nil
		},
	})
	return cmd
}
