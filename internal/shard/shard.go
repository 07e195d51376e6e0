// Package shard assigns stream records to shards by partition key.
package shard

import (
	"fmt"
	"hash/fnv"
)

// Index returns the shard for partitionKey. Every record of one partition
// lands on the same shard, so per-key order survives sharding.
// With numShards <= 1 everything goes to shard 0.
func Index(partitionKey string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(partitionKey))
	return int(h.Sum32() % uint32(numShards))
}

// ID formats a shard identifier the way the streams API does:
// shardId-<creation millis, 20 digits>-<index, 8 hex digits>.
func ID(createdMillis int64, index int) string {
	return fmt.Sprintf("shardId-%020d-%08x", createdMillis, index)
}

// SequenceNumber formats the n-th record of a shard. Sequence numbers are
// decimal strings that sort the same as text and as numbers.
func SequenceNumber(index int, n uint64) string {
	return fmt.Sprintf("%03d%018d", index, n)
}
