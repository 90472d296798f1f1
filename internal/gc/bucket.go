// Package gc implements the archive garbage-collection loop: computing the
// protection set, splitting it into deterministic batches, and handing each
// batch to the Workspace Runtime Agent to reconcile against object storage.
package gc

import "hash/fnv"

// numBatches bounds how large any single GC request to the Agent can get.
// Protected workspace IDs are assigned to a batch deterministically by
// hashing the workspace ID, the same fnv-1a "consistent hash mod N"
// technique the monitor package uses to assign bots across coordinator
// replicas — reused here purely to keep each HTTP request small and the
// batch assignment stable tick to tick, not to route work across replicas
// (GC itself still runs single-leader).
const numBatches = 8

// bucketFor deterministically assigns workspaceID to one of numBatches
// batches.
func bucketFor(workspaceID string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(workspaceID))
	return int(h.Sum64() % uint64(numBatches))
}

// partition splits workspaceIDs into numBatches deterministic groups.
func partition(workspaceIDs []string) [numBatches][]string {
	var batches [numBatches][]string
	for _, id := range workspaceIDs {
		b := bucketFor(id)
		batches[b] = append(batches[b], id)
	}
	return batches
}
