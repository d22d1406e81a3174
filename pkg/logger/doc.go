// Package logger builds *slog.Logger values with functional options and a
// handler decorator that injects attributes pulled from context.Context.
//
// New selects a text or JSON handler, applies static attributes and wraps the
// result in LogHandlerDecorator, which runs every registered ContextExtractor
// for each emitted record. FromConfig does the same from env-driven Config,
// choosing text/debug output in development and JSON/info elsewhere.
//
// attr.go holds constructors for the attribute keys used across the module
// (product_id, receipt_id, tier, attempt and friends) so records stay
// consistent between packages.
//
//	log := logger.New(
//	    logger.WithEnvironment(environment.Production, "paywall"),
//	    logger.WithContextExtractors(logger.PurchaseAttemptExtractor()),
//	)
//	log.InfoContext(ctx, "purchase resolved", logger.ProductID(id), logger.ReceiptID(r))
package logger
