// Package dedupe remembers recently seen keys for a bounded window so that
// repeated deliveries of the same decision are applied at most once.
package dedupe
