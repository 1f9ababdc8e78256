// Package kvstore provides durable, cross-context synchronized values.
//
// A Store represents one browsing context: a long-lived owner of state such
// as a page session, a CLI process, or a test fixture. Values opened on a
// Store pair an in-memory copy with a JSON copy persisted in a storage.Area
// under "<prefix>:<key>".
//
// # Reads and writes
//
// Open hydrates a value from the area, falling back to the caller's default
// when the key is absent, the area is unavailable, or the stored JSON is
// malformed:
//
//	cart := kvstore.Open(ctx, store, "cart-items", []CartItem{})
//	cart.Update(ctx, func(prev []CartItem) []CartItem {
//	    return append(prev, CartItem{ID: "7"})
//	})
//	items := cart.Get() // observes the update immediately
//
// Writes update the in-memory copy synchronously, then persist. Persistence
// failures are logged and swallowed: the value keeps working in memory for
// the rest of the session.
//
// # Cross-context synchronization
//
// Every successful write publishes a StorageEvent on the bus topic "storage".
// Other Stores apply events whose key matches and whose new value is non-nil;
// the publishing Store ignores its own events. Deletes publish an event with
// a nil new value, which receivers ignore, so deletion stays local to the
// context that made it.
//
// # Thread Safety
//
// Value is safe for concurrent use. Writes within one Store are applied and
// persisted in program order. Ordering between Stores is whatever the bus
// delivers.
package kvstore
