package cachekit

// MatchPattern reports whether name matches pattern. '*' matches any run of
// characters (including none), '?' matches exactly one character, every
// other character matches itself. There is no escaping and no regex.
//
// The matcher is iterative with single-star backtracking, so it runs in
// O(len(name) * stars) without recursion.
func MatchPattern(pattern, name string) bool {
	var (
		p, n         int
		starP, starN = -1, 0
	)
	for n < len(name) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == name[n]):
			p++
			n++
		case p < len(pattern) && pattern[p] == '*':
			// Remember the star position; try matching zero characters
			// first and extend on mismatch.
			starP = p
			starN = n
			p++
		case starP >= 0:
			starN++
			p = starP + 1
			n = starN
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
