// Package registry holds the per-process view of the cluster: which
// connections exist (live sockets owned here, ghosts owned elsewhere) and which
// clients are members of which rooms.
//
// The registries know nothing about the bus. Replicating changes to other
// processes is the caller's job, which keeps every operation a plain in-memory
// mutation that is safe for concurrent use.
package registry
