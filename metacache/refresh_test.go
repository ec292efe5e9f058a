package metacache_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stratodb/strato/authority"
	"github.com/stratodb/strato/metacache"
	"github.com/stratodb/strato/pkg/selector"
)

// TestRefreshAtomicity hammers one tablet record with whole-record
// refreshes while readers route against it. Every read must observe one
// of the two replica sets in full, never a mixture, and epochs must
// never run backwards for a reader.
func TestRefreshAtomicity(t *testing.T) {
	assert := assert.New(t)

	cache := metacache.NewLocationCache(authority.NewMemAuthority())

	mkLoc := func(ids [3]string, leader int) *authority.TabletLocations {
		loc := &authority.TabletLocations{TabletID: "t-atomic", TableID: "orders"}
		for i, id := range ids {
			role := authority.RoleFollower
			if i == leader {
				role = authority.RoleLeader
			}
			loc.Replicas = append(loc.Replicas, authority.ReplicaLocation{
				ID: id, Host: "127.0.0.1", Port: 9100 + i, Role: role,
			})
		}
		return loc
	}
	vA := mkLoc([3]string{"a0", "a1", "a2"}, 0)
	vB := mkLoc([3]string{"b0", "b1", "b2"}, 1)
	setA := []string{"a0", "a1", "a2"}
	setB := []string{"b0", "b1", "b2"}

	cache.RefreshTablet(vA)

	stop := make(chan struct{})
	var writers sync.WaitGroup
	writers.Add(1)
	go func() {
		defer writers.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				cache.RefreshTablet(vB)
			} else {
				cache.RefreshTablet(vA)
			}
		}
	}()

	const readers = 8
	const readsPerReader = 500
	var wg sync.WaitGroup
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastEpoch uint64
			for i := 0; i < readsPerReader; i++ {
				target, err := cache.Route(context.Background(), metacache.RouteRequest{
					TabletID: "t-atomic",
					Policy:   selector.ClosestReplica,
				})
				if !assert.NoError(err) {
					return
				}

				ids := []string{target.ServerID}
				for _, f := range target.Fallbacks {
					ids = append(ids, f.ServerID)
				}
				sort.Strings(ids)
				if !assert.True(equalStrings(ids, setA) || equalStrings(ids, setB),
					"read a mixed replica list: %v", ids) {
					return
				}

				if !assert.GreaterOrEqual(target.Epoch, lastEpoch, "epoch ran backwards") {
					return
				}
				lastEpoch = target.Epoch
			}
		}()
	}

	wg.Wait()
	close(stop)
	writers.Wait()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
