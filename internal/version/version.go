// Package version holds the running release and the base-release comparison
// used for the update-available advisory.
package version

import (
	"strconv"
	"strings"
)

// Version is the release of the running daemon.
const Version = "1.0.10"

// BaseRelease strips local and dev suffixes from a version string, returning
// only the numeric release segments. "1.0.10.dev0+gABC.d20260101" -> "1.0.10".
func BaseRelease(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexByte(v, '+'); i >= 0 {
		v = v[:i]
	}
	if i := strings.IndexByte(v, '-'); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			break
		}
		out = append(out, p)
	}
	return strings.Join(out, ".")
}

// Compare compares two base releases segment by segment. Returns -1, 0, or 1.
func Compare(a, b string) int {
	as := segments(a)
	bs := segments(b)
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

func segments(v string) []int {
	parts := strings.Split(BaseRelease(v), ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out
}

// UpdateAvailable reports whether the installed version's base release is
// strictly greater than the running version's base release. A dev build of
// the same release ("1.0.10.dev0+g..." vs "1.0.10") does not flag an update.
func UpdateAvailable(running, installed string) bool {
	if installed == "" {
		return false
	}
	return Compare(BaseRelease(installed), BaseRelease(running)) > 0
}
