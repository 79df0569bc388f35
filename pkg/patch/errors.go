package patch

import "errors"

// Repository sentinels. Storage implementations wrap these so callers can
// test with errors.Is regardless of backend.
var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// Filter narrows a patch listing. Zero values match everything.
type Filter struct {
	Stage Stage
	Zone  int
}

// Matches reports whether p satisfies f.
func (f Filter) Matches(p *Patch) bool {
	if f.Stage != "" && p.Stage != f.Stage {
		return false
	}
	if f.Zone != 0 && p.Zone != f.Zone {
		return false
	}
	return true
}
