// Package grpcclient provides gRPC client plumbing for the external
// authorization transports: a connection manager producing client
// connections from a service descriptor, and a process-wide
// reference-counted cache of shared client handles keyed by canonical
// target identity.
//
// The cache is initialized once at process start and torn down at
// shutdown; individual entries live for the union of all referencing
// filter configurations and are evicted when the last reference is
// released.
package grpcclient
