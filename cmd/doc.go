// Package cmd implements the command-line interface of artdb. The CLI works on
// in-memory databases and the BTDBEXP2 export format.
//
// The package is organized into several subpackages:
//
//   - data: gen (write an export file with generated pairs) and dump (import
//     an export file and print info, pairs and metrics)
//   - bench: a mixed reader/writer load with latency timers
//   - util: Shared utilities for flags, configuration and logging (internal use)
//
// See artdb -help for a list of all commands.
package cmd
