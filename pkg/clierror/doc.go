// Package clierror provides structured error handling for CLI commands.
//
// CLI errors include an exit code, user-facing message, and optional
// troubleshooting hints. Errors returned by the lifecycle engine are
// converted with FromError so each rejection class maps to its own exit
// code:
//
//	2  role not permitted
//	3  safety gates not met
//	4  patch, cluster or zone not found
//	5  invalid input
//	6  invalid transition
//
// # Usage
//
//	if err := run(); err != nil {
//	    ce := clierror.FromError(err)
//	    clierror.PrintError(ce, outputFormat)
//	    os.Exit(ce.ExitCode)
//	}
package clierror
