// Package lifecycle implements the map patch state machine.
//
// A patch moves forward one stage at a time:
//
//	candidate -> shadow -> silent -> active
//
// Any non-terminal stage can be rolled back, and an Active patch past its
// expiry can be expired by the system. rolled_back and expired are terminal.
//
// Every Engine operation checks the caller's role first and rejects a denied
// request before reading any state. Promotions into a gated stage (silent and
// active by default) also require the full safety checklist to pass. Each
// accepted operation appends exactly one audit event and, when the stage
// changes, recomputes the patch's distribution row; patch, row and event are
// committed to the Repository together.
//
// Operations on one patch are serialized by a per-patch lock. Operations on
// different patches do not contend.
//
// The kill switch never rewrites stored state. EffectiveStage and
// EffectiveFleetPercent apply it at read time.
package lifecycle
