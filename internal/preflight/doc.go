// Package preflight answers "can the mediator run here?".
//
// DiskProbe backs the checkDiskSpace command: it reports whether the
// filesystem holding the data directory has at least the configured minimum
// of free space. Checker bundles the probe with the other checks that the
// doctor command prints:
//   - Disk space on the data directory
//   - Write permission on the data directory
//   - File descriptor limit (bleve keeps segment files open)
//   - User config document parses
package preflight
