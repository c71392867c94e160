// Package realtime pushes committed board mutations to live websocket clients.
//
// The Registry owns every live Connection together with the reverse
// board -> connections index; both change under one lock so a concurrent
// publish never sees a connection without its subscriptions or the reverse.
// The Broadcaster resolves targets from that index, encodes each event once
// and enqueues it into every target's bounded send buffer without blocking.
// A connection whose buffer is full, or whose transport fails a write, is
// evicted on its own; the rest of the fan-out is unaffected.
//
// The Supervisor pings every connection on a fixed interval and evicts the
// ones that stayed silent for MaxMissed consecutive cycles. The Bridge is the
// single entry point for the CRUD layer: it turns a committed mutation into a
// domain.ChangeEvent and hands it to the Broadcaster without waiting on I/O.
//
// Delivery is best effort and at most once. Clients reload full board state
// after every (re)connect instead of relying on the event stream.
package realtime
