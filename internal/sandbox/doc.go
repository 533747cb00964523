// Package sandbox runs external encoder processes under resource limits.
//
// Every command gets its own process group so a wall-clock timeout or a
// cancelled context kills the whole tree. On Linux the child can be placed in
// fresh user and network namespaces, and its address space and CPU time are
// capped with prlimit right after start. Combined stdout and stderr are kept
// as a bounded tail for error reports and can be streamed line by line to a
// job log.
package sandbox
