// Package dedupe remembers recently seen realtime event IDs so that
// retransmitted transport events are applied to a session only once.
package dedupe
