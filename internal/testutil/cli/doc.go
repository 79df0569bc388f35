// Package cli provides shared test utilities for the shmctl cobra commands.
//
// # Basic Usage
//
// Build a fresh command tree per test, point it at a temporary database and
// check output:
//
//	root := cmd.NewRootCmd()
//	result := cli.Run(root, "--db", cli.TempDB(t), "seed")
//	result.AssertSuccess(t)
//	result.AssertContains(t, "4 patches")
//
// # Exit Codes
//
// Errors are mapped through clierror exactly as main does, so tests can
// assert the exit code an operator would see:
//
//	result := cli.Run(root, "--db", db, "--role", "autonomy", "patch", "rollback", "SHM-19-0042")
//	result.AssertExitCode(t, clierror.ExitAuth)
//
// # JSON Output
//
//	var p patch.Patch
//	cli.Run(root, "-o", "json", "patch", "show", id).DecodeJSON(t, &p)
package cli
