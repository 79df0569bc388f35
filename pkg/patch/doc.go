// Package patch defines the self-healing map domain model: patches and their
// stages, mismatch clusters, zones and fleet distribution rows.
//
// The types here carry no behaviour beyond small helpers. Stage transitions
// live in pkg/lifecycle, gate evaluation in pkg/safety and the stage to fleet
// percentage policy in pkg/distribution.
package patch
