package tablet

import (
	"bytes"
	"sort"
	"time"

	"github.com/stratodb/strato/pkg/models/stratoerror"
	"github.com/stratodb/strato/pkg/models/tserver"
)

type ReplicaRole int

const (
	RoleFollower = ReplicaRole(0)
	RoleLeader   = ReplicaRole(1)
)

// Replica is one server's copy of a tablet. ServerID is a plain identity
// key into the server directory, not an owning reference.
type Replica struct {
	ServerID string
	Role     ReplicaRole
}

// Partition is the half-open key range [StartKey, EndKey) a tablet owns.
// An empty StartKey means the beginning of the keyspace, an empty EndKey
// means the end of it.
type Partition struct {
	StartKey []byte
	EndKey   []byte
}

func (p Partition) Contains(key []byte) bool {
	if len(p.StartKey) != 0 && bytes.Compare(key, p.StartKey) < 0 {
		return false
	}
	if len(p.EndKey) != 0 && bytes.Compare(key, p.EndKey) >= 0 {
		return false
	}
	return true
}

func (p Partition) Equal(other Partition) bool {
	return bytes.Equal(p.StartKey, other.StartKey) && bytes.Equal(p.EndKey, other.EndKey)
}

// Tablet is the client-side record of one tablet: its partition bounds
// and replica set at some refresh epoch. Records are immutable once
// published; a refresh builds a whole new record and swaps it in.
type Tablet struct {
	ID        string
	TableID   string
	Partition Partition

	Replicas []Replica

	Epoch       uint64
	RefreshedAt time.Time
}

// Leader returns the replica currently marked leader, nil if none is known.
func (t *Tablet) Leader() *Replica {
	for i := range t.Replicas {
		if t.Replicas[i].Role == RoleLeader {
			return &t.Replicas[i]
		}
	}
	return nil
}

// HasReplica reports whether serverID serves this tablet.
func (t *Tablet) HasReplica(serverID string) bool {
	for i := range t.Replicas {
		if t.Replicas[i].ServerID == serverID {
			return true
		}
	}
	return false
}

// VerifyCoverage checks that partitions, in any order, are pairwise
// disjoint and jointly cover the full key domain.
//
// Returns:
//   - error: STRT_INVALID_RANGE describing the first gap or overlap found.
func VerifyCoverage(parts []Partition) error {
	if len(parts) == 0 {
		return stratoerror.New(stratoerror.STRT_INVALID_RANGE, "table has no partitions")
	}

	sorted := make([]Partition, len(parts))
	copy(sorted, parts)
	sortPartitions(sorted)

	if len(sorted[0].StartKey) != 0 {
		return stratoerror.Newf(stratoerror.STRT_INVALID_RANGE,
			"keyspace does not start at the beginning: first range starts at %q", sorted[0].StartKey)
	}
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if len(prev.EndKey) == 0 {
			return stratoerror.Newf(stratoerror.STRT_INVALID_RANGE,
				"range starting at %q overlaps open-ended predecessor", cur.StartKey)
		}
		switch bytes.Compare(prev.EndKey, cur.StartKey) {
		case -1:
			return stratoerror.Newf(stratoerror.STRT_INVALID_RANGE,
				"gap between %q and %q", prev.EndKey, cur.StartKey)
		case 1:
			return stratoerror.Newf(stratoerror.STRT_INVALID_RANGE,
				"overlap between range ending at %q and range starting at %q", prev.EndKey, cur.StartKey)
		}
	}
	if last := sorted[len(sorted)-1]; len(last.EndKey) != 0 {
		return stratoerror.Newf(stratoerror.STRT_INVALID_RANGE,
			"keyspace does not extend to the end: last range ends at %q", last.EndKey)
	}
	return nil
}

func sortPartitions(parts []Partition) {
	sort.Slice(parts, func(i, j int) bool {
		return bytes.Compare(parts[i].StartKey, parts[j].StartKey) < 0
	})
}

// ResolvedReplica pairs a replica with the directory entry it resolves to.
// Produced by the location cache when handing a record to the selector.
type ResolvedReplica struct {
	Replica
	Server *tserver.TServer
}
