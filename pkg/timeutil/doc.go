// Package timeutil provides human-readable relative time formatting for
// CLI tables.
//
// # Usage
//
//	timeutil.Relative(cluster.LastSeen)           // "5 minutes ago"
//	timeutil.RelativeTo(p.ExpiresAt, time.Now())  // "in 12 days"
package timeutil
