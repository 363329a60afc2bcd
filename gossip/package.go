/*
package gossip tells interested parties when a cache entry changes.  A
listener names a key and the version it already has; it hears back exactly
once, either with something newer or with an error.

The name is imperfect, but see the section "Promotion" on https://en.wikipedia.org/wiki/Hadacol.
*/

package gossip

import "context"

// Source is where current versions come from, normally the cache.
type Source interface {
	// Current returns what is known for key right now.  ok is false if
	// nothing has been fetched yet.
	Current(ctx context.Context, key string) (value any, version int64, ok bool)
}

// Update is what a listener receives.
type Update struct {
	Key     string
	Version int64
	Value   any
}
