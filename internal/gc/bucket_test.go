package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketForIsDeterministic(t *testing.T) {
	assert.Equal(t, bucketFor("ws-1"), bucketFor("ws-1"))
}

func TestPartitionCoversEveryWorkspaceExactlyOnce(t *testing.T) {
	ids := []string{"ws-1", "ws-2", "ws-3", "ws-4", "ws-5", "ws-6", "ws-7", "ws-8", "ws-9"}
	batches := partition(ids)

	seen := make(map[string]int)
	for _, batch := range batches {
		for _, id := range batch {
			seen[id]++
		}
	}
	for _, id := range ids {
		assert.Equal(t, 1, seen[id], "workspace %s should appear in exactly one batch", id)
	}
}

func TestPartitionBoundsBatchCount(t *testing.T) {
	batches := partition([]string{"a", "b", "c"})
	assert.Len(t, batches, numBatches)
}
