package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/paywall/pkg/kvstore"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	envFiles  []string
	store     string
	storeFile string
	catalog   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "paywallctl",
		Short: "Drive the subscription engine and paywall against a sandbox store",
		Long: `paywallctl runs the subscription engine against an in-process store
sandbox. Purchases, restores and re-verification go through the same code
paths an application uses; the sandbox decides how each purchase ends.

Configuration is read from the environment (see .env.example). Subscription
status, paywall state and the sandbox purchase history persist in the
configured key-value store between invocations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load before reading the environment")
	flags.StringVar(&opts.store, "store", "", "key-value store driver: memory, file, redis, postgres, mongo")
	flags.StringVar(&opts.storeFile, "store-file", "", "state file for the file store")
	flags.StringVar(&opts.catalog, "catalog", "", "YAML catalog file")

	cmd.AddCommand(
		newStatusCommand(opts),
		newProductsCommand(opts),
		newPurchaseCommand(opts),
		newRestoreCommand(opts),
		newVerifyCommand(opts),
		newPaywallCommand(opts),
		newSimulateCommand(opts),
		newReceiptCommand(opts),
		newHealthCommand(opts),
	)
	return cmd
}

// config reads the environment and applies the persistent flags on top.
func (o *rootOptions) config() (Config, error) {
	cfg, err := loadConfig(o.envFiles...)
	if err != nil {
		return Config{}, err
	}
	if o.store != "" {
		cfg.Store.Driver = o.store
	}
	if o.storeFile != "" {
		cfg.Store.Driver = kvstore.DriverFile
		cfg.Store.FilePath = o.storeFile
	}
	if o.catalog != "" {
		cfg.Catalog.File = o.catalog
	}
	return cfg, nil
}

// run builds the object graph, starts it, calls fn and stops the graph again.
// tweak adjusts the configuration for a single command.
func (o *rootOptions) run(cmd *cobra.Command, tweak func(*Config) error, fn func(context.Context, deps) error) error {
	cfg, err := o.config()
	if err != nil {
		return err
	}
	if tweak != nil {
		if err := tweak(&cfg); err != nil {
			return err
		}
	}

	var d deps
	app := newApp(cfg, &d)
	if err := app.Err(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(ctx, d)

	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), app.StopTimeout())
	defer cancelStop()
	return errors.Join(runErr, app.Stop(stopCtx))
}

// initEngine connects the engine to the sandbox store.
func initEngine(ctx context.Context, d deps) error {
	if !d.Engine.Init(ctx) {
		return errInitFailed
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
