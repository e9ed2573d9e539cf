// Package health serves liveness and readiness probes.
//
// Liveness only reports that the process is serving. Readiness runs every
// registered check concurrently under a timeout and fails while the
// handler is draining, so load balancers stop routing before shutdown.
package health
