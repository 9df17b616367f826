// Package positioning describes the location service the scheduler drives
// and ships a simulated implementation of it.
//
// A Provider supplies location fixes, answers authorization requests and
// accepts the set of regions to monitor actively. It reports asynchronous
// happenings through typed events (FixReceived, AuthorizationChanged) instead
// of delegate callbacks. The Simulator replays a recorded track and accepts
// pushed fixes, which is what the server and the tests run against.
package positioning
