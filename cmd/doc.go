// Package cmd implements the command-line interface of dMem. It provides commands
// for running a memory node and for talking to one as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a memory node and serves its accounting calls
//   - mem: Client commands (charge, uncharge, detach, info, allocator, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dmem -help for a list of all commands.
package cmd
