package invalidate

import "context"

// Group is an invalidator view scoped to one key prefix. All operations
// apply the prefix before delegating, so callers work with bare member
// names ("42" instead of "user:42").
type Group struct {
	inv    *Invalidator
	prefix string
}

// Prefix returns the group's key prefix.
func (g *Group) Prefix() string { return g.prefix }

// InvalidateKeys removes the given members of the group.
func (g *Group) InvalidateKeys(ctx context.Context, keys ...string) (int, error) {
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = g.prefix + key
	}
	return g.inv.InvalidateKeys(ctx, prefixed...)
}

// InvalidatePattern removes group members matching pattern. The pattern is
// matched against the bare member name.
func (g *Group) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	return g.inv.InvalidatePattern(ctx, g.prefix+pattern)
}

// InvalidateAll removes every entry in the group.
func (g *Group) InvalidateAll(ctx context.Context) (int, error) {
	return g.inv.InvalidatePrefix(ctx, g.prefix)
}
