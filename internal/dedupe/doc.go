// Package dedupe drops duplicate chat deliveries. Transports may redeliver
// an update after a reconnect; the worker pool marks each delivery ID in a
// Cache and discards any ID already seen within the TTL window.
package dedupe
