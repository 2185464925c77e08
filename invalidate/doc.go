// Package invalidate removes cache entries in bulk. It operates through a
// cachekit.Manager, so every pass works identically on the memory, file,
// and redis backends.
//
// Selection modes: explicit key sets, glob patterns, prefixes, predicates
// over stored payloads, and dependency closures (a key plus everything that
// derives from it). Deletions run in bounded batches; a failing batch is
// reported but never aborts the rest of the pass, and the returned count
// always reflects what was actually removed.
//
//	inv := invalidate.New(cache)
//	removed, err := inv.InvalidatePattern(ctx, "user:*")
//
// Deferred passes return a Pending handle that resolves exactly once:
//
//	p, err := inv.ScheduleInvalidation([]string{"report:daily"}, time.Hour)
//	...
//	p.Cancel() // or: n, err := p.Wait(ctx)
//
// ConditionalInvalidation polls a predicate and fires on the first true
// result. Group scopes all operations to a key prefix, which is the cheap
// way to get tag-like invalidation out of plain key naming:
//
//	users := inv.Group("user:")
//	users.InvalidateKeys(ctx, "42", "43")
//
// Every completed pass lands in a bounded history (newest first via
// History) and bumps the owning Manager's invalidation counter.
package invalidate
