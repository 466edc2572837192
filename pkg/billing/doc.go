// Package billing turns billing provider traffic into typed values.
//
// A Provider does two things: it authenticates and parses webhook deliveries
// into an Event, and it lists every subscription a customer holds so
// entitlement state can be re-derived from the provider's own view. Three
// providers ship with the package:
//
//   - StripeProvider, backed by github.com/stripe/stripe-go/v82.
//   - PaddleProvider, backed by github.com/PaddleHQ/paddle-go-sdk/v4.
//   - SignedProvider, a generic HMAC-SHA256 scheme ("t=<unix>,v1=<hex>") for
//     first-party relays, with subscriptions supplied by a SubscriptionLister.
//
// # Events
//
// Event carries the fields every delivery shares and a Data payload that is
// one of SubscriptionChanged, CheckoutCompleted or InvoiceSettled. Deliveries
// of types the engine does not model parse successfully with Known() == false
// so callers can acknowledge them without effect.
//
// # Errors
//
// Authentication and parsing failures are reported as *VerificationError.
// Bad signatures and stale timestamps should be answered with a failure status
// so the provider retries; malformed payloads should be acknowledged.
package billing
