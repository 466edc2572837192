// Package entitlements decides which paid features a user has and how much
// of each metered feature remains in the current window.
//
// Billing state arrives asynchronously from a provider as signed webhooks.
// Deliveries may be duplicated, delayed, or reordered, so they are used only
// as triggers: each one causes a full re-derivation of the customer's
// entitlement from the provider's subscription list. Quota consumption is a
// single atomic store operation and fails closed.
//
// Engine wires the pieces together:
//
//	engine := entitlements.New(store, provider,
//		entitlements.WithLogger(log),
//		entitlements.WithObserver(collector),
//	)
//	mux.Handle("/webhooks/billing", engine.WebhookHandler())
//
//	if engine.CheckFeature(ctx, userID, entitlement.FeatureSeeLikedYou) {
//		// ...
//	}
//	res, err := engine.ConsumeQuota(ctx, userID, entitlement.FeatureSuperLikesPerWeek)
package entitlements
