// Package watchdog defines the watchdog entity, its deduplication state and
// the contracts it needs from the outside world: a Fetcher that lists the
// ads currently found on a search page and a Notifier that tells the owner
// about the new ones.
package watchdog
