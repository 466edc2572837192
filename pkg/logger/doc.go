// Package logger builds the *slog.Logger used across the entitlement engine.
//
// New applies functional options (format, level, static attributes and
// context extractors) and wraps the resulting handler so values stored in a
// context.Context, such as a webhook delivery id, are attached to every record
// logged with that context:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "entitlementd"),
//		logger.WithContextValue("delivery_id", deliveryKey{}),
//	)
//	log.InfoContext(ctx, "reconciled", logger.UserID(rec.UserID), logger.Tier(string(rec.Tier)))
//
// Attribute helpers in attr.go keep key names consistent between packages.
// Helpers taking an error or an id return an empty slog.Attr for zero values
// so call sites need no nil checks.
package logger
