package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/paywall/pkg/appstate"
	"github.com/dmitrymomot/paywall/pkg/paywall"
)

const visibilityPoll = 10 * time.Millisecond

type simulateOptions struct {
	loginDelay      time.Duration
	foregroundDelay time.Duration
	debounce        time.Duration
	outcome         string
	delay           time.Duration
	reset           bool
}

func newSimulateCommand(opts *rootOptions) *cobra.Command {
	so := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a scripted app session: login, dismiss, background, purchase",
		Long: `simulate plays one app session against the sandbox store: the user logs
in, the paywall appears and is dismissed, the app goes to the background and
comes back, and finally the first catalog plan is purchased. Every paywall
visibility change is printed as it happens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tweak := func(cfg *Config) error {
				cfg.Paywall.LoginDelay = so.loginDelay
				cfg.Paywall.ForegroundDelay = so.foregroundDelay
				cfg.Paywall.Debounce = so.debounce
				cfg.Sandbox.Outcome = so.outcome
				cfg.Sandbox.Delay = so.delay
				return nil
			}
			return opts.run(cmd, tweak, func(ctx context.Context, d deps) error {
				return so.play(ctx, cmd.OutOrStdout(), d)
			})
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&so.loginDelay, "login-delay", 500*time.Millisecond, "delay before the login paywall")
	flags.DurationVar(&so.foregroundDelay, "foreground-delay", 500*time.Millisecond, "delay before the return-to-foreground paywall")
	flags.DurationVar(&so.debounce, "debounce", 5*time.Second, "minimum time between automatic showings")
	flags.StringVar(&so.outcome, "outcome", "success", "how the store ends the purchase: success, cancel, fail")
	flags.DurationVar(&so.delay, "delay", 500*time.Millisecond, "how long the store takes to answer")
	flags.BoolVar(&so.reset, "reset", false, "forget earlier dismissals before starting")
	return cmd
}

func (so *simulateOptions) play(ctx context.Context, out io.Writer, d deps) error {
	var mu sync.Mutex
	start := time.Now()
	say := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "[%6s] ", time.Since(start).Truncate(time.Millisecond))
		fmt.Fprintf(out, format+"\n", args...)
	}

	if so.reset {
		if err := d.Policy.Reset(ctx); err != nil {
			return err
		}
	}
	if err := initEngine(ctx, d); err != nil {
		return err
	}
	say("engine ready, subscribed=%t tier=%s", d.Engine.Status().IsSubscribed, d.Engine.Status().Tier)

	stopWatch := d.Paywall.Watch(ctx, func(v paywall.Visibility) {
		if v.Visible {
			say("paywall shown (trigger=%s dismissible=%t)", v.Trigger, v.Dismissible)
			return
		}
		say("paywall hidden")
	})
	defer stopWatch()

	if err := d.Paywall.Start(ctx); err != nil {
		return err
	}
	stopVerify := d.Engine.StartVerification(ctx, d.Tracker)
	defer stopVerify()

	say("user logs in")
	d.Tracker.SetLifecycle(ctx, appstate.Active)
	d.Tracker.SetSession(ctx, true)

	if !waitVisibility(ctx, d.Paywall, true, so.loginDelay+time.Second) {
		say("paywall did not appear")
	} else {
		switch err := d.Paywall.Dismiss(ctx); {
		case errors.Is(err, paywall.ErrHardPaywall):
			say("user cannot dismiss the paywall anymore")
		case err != nil:
			return err
		default:
			say("user dismissed the paywall")
		}
	}

	say("app goes to the background")
	d.Tracker.SetLifecycle(ctx, appstate.Background)
	say("app returns to the foreground")
	d.Tracker.SetLifecycle(ctx, appstate.Active)
	if !waitVisibility(ctx, d.Paywall, true, so.foregroundDelay+time.Second) {
		say("foreground paywall skipped (debounced, subscribed or already showing)")
	}

	productID := d.Catalog.SKUs()[0]
	say("user buys %s", productID)
	res := d.Engine.Purchase(ctx, productID)
	if res.Success {
		say("purchase succeeded, receipt %s", res.ReceiptID)
	} else {
		say("purchase did not go through: %s", res.Message())
	}

	if res.Success && !waitVisibility(ctx, d.Paywall, false, time.Second) {
		say("paywall still visible after the purchase")
	}

	st := d.Engine.Status()
	say("final status: subscribed=%t tier=%s receipt=%s", st.IsSubscribed, st.Tier, st.ReceiptID)
	return nil
}

// waitVisibility polls the controller until its visibility matches visible or
// timeout passes.
func waitVisibility(ctx context.Context, ctrl *paywall.Controller, visible bool, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(visibilityPoll)
	defer ticker.Stop()
	for {
		if ctrl.Visibility().Visible == visible {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
