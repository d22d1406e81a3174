// Package paywall decides when the subscription paywall is shown and whether
// the user may close it.
//
// Policy holds the persisted rules. The paywall can be dismissed twice; from
// the third showing on it is a hard paywall without a close affordance until
// the user subscribes. Automatic showings are debounced so that triggers
// racing each other produce a single presentation.
//
// Controller drives the triggers from an appstate.Tracker and a subscription
// engine: shortly after the first login of the app lifetime and after every
// return to the foreground. It hides the paywall and resets the policy once
// the user subscribes, and publishes every Visibility change.
//
// # Usage
//
//	policy := paywall.NewPolicy(store)
//	ctrl := paywall.NewController(policy, tracker, engine)
//	if err := ctrl.Start(ctx); err != nil {
//		return err
//	}
//	defer ctrl.Close()
//
//	stop := ctrl.Watch(ctx, func(v paywall.Visibility) {
//		render(v.Visible, v.Dismissible)
//	})
//	defer stop()
//
//	if err := ctrl.Dismiss(ctx); errors.Is(err, paywall.ErrHardPaywall) {
//		// keep showing, without a close button
//	}
//
// Persisted keys live under the "paywall" namespace: dismissCount and
// lastShownTimestamp (epoch milliseconds).
package paywall
