// Package server is the lifecycle controller of one worker process. It owns
// the WebSocket upgrade handler, the per-socket pumps, the connection and room
// registries, and the bus subscription that keeps those registries in step
// with the other workers of the cluster.
//
// A Server moves from Created to Started with Start and to Stopped with Stop.
// Start may be called again after Stop; it always begins from empty
// registries.
package server
