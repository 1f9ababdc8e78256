// Package offline provides the offline cache coordinator that fronts the
// menu origin.
//
// # Overview
//
// A Coordinator owns one cache version. It keeps two named buckets, a
// static bucket pre-populated at install time from the Manifest and a
// dynamic bucket filled at runtime, and chooses a strategy per request:
//
//   - cache-first for URLs matching a static manifest entry
//   - network-first for URLs matching a dynamic manifest entry
//   - stale-while-revalidate for everything else
//
// Non-GET requests and chrome-extension: URLs always go to the network.
//
// # Lifecycle
//
// Install fetches every static entry and stores them only if all fetches
// succeed. Activate deletes every bucket that does not belong to the
// current version and claims the open pages. The Registry sequences these
// steps: a failed install leaves the previous coordinator in charge, and a
// successful one replaces it.
//
// All inputs, including requests, page messages, background sync and push,
// go through a dispatch table keyed by EventKind:
//
//	c, _ := offline.New(offline.DefaultConfig(origin))
//	reg := offline.NewRegistry(origin, nil, logger)
//	if err := reg.Register(ctx, c); err != nil {
//	    // previous version keeps serving
//	}
//	http.Handle("/", reg)
package offline
