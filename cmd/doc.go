// Package cmd implements the command-line interface of hKV. Every command works on an
// embedded engine, there is no server process.
//
// The package is organized into several subpackages:
//
//   - kv: Key-value operations on the database in --data-dir (get, set, cas, scan, export, import, ...)
//   - lock: Lease based locks on top of the same database (acquire, renew, release)
//   - bench: Parallel benchmarks against an engine in a temporary directory
//   - inspect: Offline checksum verification of a data directory
//   - util: Shared flag, configuration and store setup (internal use)
//
// See hkv --help for a list of all commands.
package cmd
