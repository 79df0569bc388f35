// Package authz is the role-based authorization model for map patch
// operations.
//
// # Role Model
//
// Five closed roles map onto thirteen closed actions through a static
// permission table:
//   - mapping: drafts, duplicate marking, evidence requests, Shadow promotion
//   - autonomy: drafts, evidence requests, Shadow promotion
//   - safety: holds and approvals, rollback, thresholds, safety notes and
//     every promotion
//   - fleet_ops: distribution visibility and rollback
//   - admin: everything except duplicate marking, evidence requests and
//     safety notes; the only role allowed to toggle the kill switch
//
// Can answers from the table directly. The Authorizer evaluates the same
// question through Cedar using policies generated from the table, so the two
// never disagree.
//
// # Usage
//
//	authorizer, err := authz.NewAuthorizer(authz.Config{Logger: logger})
//
//	err = authorizer.Require(ctx, authz.Request{
//		Actor:    "jdoe",
//		Role:     authz.RoleSafety,
//		Action:   authz.ActionPromoteActive,
//		Resource: authz.PatchResource("SHM-19-0043"),
//	})
//
// # Thread Safety
//
// Authorizer is safe for concurrent use. Can is a pure function.
package authz
