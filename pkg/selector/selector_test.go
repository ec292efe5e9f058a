package selector_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stratodb/strato/pkg/models/locality"
	"github.com/stratodb/strato/pkg/models/stratoerror"
	"github.com/stratodb/strato/pkg/models/tablet"
	"github.com/stratodb/strato/pkg/models/tserver"
	"github.com/stratodb/strato/pkg/selector"
)

// threeServerReplicas builds the reference layout: three servers in
// cloud aws, server K placed in regionK/zoneK, server 0 leader.
func threeServerReplicas() []tablet.ResolvedReplica {
	ret := make([]tablet.ResolvedReplica, 0, 3)
	for i := 0; i < 3; i++ {
		role := tablet.RoleFollower
		if i == 0 {
			role = tablet.RoleLeader
		}
		id := fmt.Sprintf("ts-%d", i)
		ret = append(ret, tablet.ResolvedReplica{
			Replica: tablet.Replica{ServerID: id, Role: role},
			Server: tserver.NewTServer(id, []string{fmt.Sprintf("10.0.0.%d:9100", i)}, locality.Locality{
				Cloud:  "aws",
				Region: fmt.Sprintf("region%d", i),
				Zone:   fmt.Sprintf("zone%d", i),
			}),
		})
	}
	return ret
}

// TestClosestReplicaLadder walks the full affinity matrix of the
// three-server layout: self identity wins over any placement, zone wins
// over a mismatched region, region alone still picks the right server.
func TestClosestReplicaLadder(t *testing.T) {
	assert := assert.New(t)
	replicas := threeServerReplicas()

	for k := 0; k < 3; k++ {
		zone := fmt.Sprintf("zone%d", k)
		region := fmt.Sprintf("region%d", k)
		otherRegion := fmt.Sprintf("region%d", (k+1)%3)
		otherZone := fmt.Sprintf("zone%d", (k+1)%3)
		self := fmt.Sprintf("ts-%d", k)

		for _, tc := range []struct {
			name   string
			client locality.ClientLocality
		}{
			{"self only", locality.ClientLocality{SelfID: self}},
			{"zone only", locality.ClientLocality{Zone: zone}},
			{"region only", locality.ClientLocality{Region: region}},
			{"zone beats mismatched region", locality.ClientLocality{Zone: zone, Region: otherRegion}},
			{"self beats mismatched zone and region", locality.ClientLocality{
				SelfID: self,
				Zone:   otherZone,
				Region: fmt.Sprintf("region%d", (k+2)%3),
			}},
		} {
			sel, err := selector.Select(replicas, tc.client, selector.ClosestReplica, nil, nil)
			assert.NoError(err, tc.name)
			assert.Equal(self, sel.Target.ServerID, "%s (k=%d)", tc.name, k)
			assert.Len(sel.Fallbacks, 2, tc.name)
		}
	}
}

func TestClosestReplicaCloudTier(t *testing.T) {
	assert := assert.New(t)
	replicas := threeServerReplicas()
	replicas[2].Server.Locality.Cloud = "gcp"

	// No zone or region match anywhere: the aws replicas outrank the
	// gcp one, original order breaks the tie.
	sel, err := selector.Select(replicas, locality.ClientLocality{
		Cloud: "aws", Region: "region9", Zone: "zone9",
	}, selector.ClosestReplica, nil, nil)
	assert.NoError(err)
	assert.Equal("ts-0", sel.Target.ServerID)
	assert.Equal("ts-1", sel.Fallbacks[0].ServerID)
	assert.Equal("ts-2", sel.Fallbacks[1].ServerID)
}

// TestClosestReplicaNoMatch checks that an empty locality still yields
// exactly one deterministic candidate.
func TestClosestReplicaNoMatch(t *testing.T) {
	assert := assert.New(t)
	replicas := threeServerReplicas()

	for i := 0; i < 5; i++ {
		sel, err := selector.Select(replicas, locality.ClientLocality{}, selector.ClosestReplica, nil, nil)
		assert.NoError(err)
		assert.Equal("ts-0", sel.Target.ServerID)
		assert.Equal([]string{"ts-1", "ts-2"}, []string{
			sel.Fallbacks[0].ServerID, sel.Fallbacks[1].ServerID,
		})
	}
}

func TestExclusions(t *testing.T) {
	assert := assert.New(t)
	replicas := threeServerReplicas()

	sel, err := selector.Select(replicas, locality.ClientLocality{Zone: "zone0"}, selector.ClosestReplica,
		map[string]struct{}{"ts-0": {}, "ts-1": {}}, nil)
	assert.NoError(err)
	assert.Equal("ts-2", sel.Target.ServerID)
	assert.Empty(sel.Fallbacks)

	_, err = selector.Select(replicas, locality.ClientLocality{}, selector.ClosestReplica,
		map[string]struct{}{"ts-0": {}, "ts-1": {}, "ts-2": {}}, nil)
	assert.Error(err)
	assert.Equal(stratoerror.STRT_NO_REPLICA, stratoerror.ErrorCode(err))
}

func TestDeadReplicasFiltered(t *testing.T) {
	assert := assert.New(t)
	replicas := threeServerReplicas()
	replicas[0].Server.Health = tserver.HealthDead

	sel, err := selector.Select(replicas, locality.ClientLocality{Zone: "zone0"}, selector.ClosestReplica, nil, nil)
	assert.NoError(err)
	assert.Equal("ts-1", sel.Target.ServerID)
}

func TestLeaderOnly(t *testing.T) {
	assert := assert.New(t)
	replicas := threeServerReplicas()

	sel, err := selector.Select(replicas, locality.ClientLocality{Zone: "zone2"}, selector.LeaderOnly, nil, nil)
	assert.NoError(err)
	assert.Equal("ts-0", sel.Target.ServerID)
	assert.Empty(sel.Fallbacks)

	// Excluding the leader must not fall back to a follower.
	_, err = selector.Select(replicas, locality.ClientLocality{}, selector.LeaderOnly,
		map[string]struct{}{"ts-0": {}}, nil)
	assert.Error(err)
	assert.Equal(stratoerror.STRT_NO_LEADER, stratoerror.ErrorCode(err))
}

func TestAnyAvailableRotates(t *testing.T) {
	assert := assert.New(t)
	replicas := threeServerReplicas()
	cursor := &selector.RotationCursor{}

	seen := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		sel, err := selector.Select(replicas, locality.ClientLocality{}, selector.AnyAvailable, nil, cursor)
		assert.NoError(err)
		seen = append(seen, sel.Target.ServerID)
	}
	assert.Equal([]string{"ts-0", "ts-1", "ts-2", "ts-0", "ts-1", "ts-2"}, seen)
}

func TestPolicyByName(t *testing.T) {
	assert := assert.New(t)

	p, err := selector.PolicyByName("closest")
	assert.NoError(err)
	assert.Equal(selector.ClosestReplica, p)

	_, err = selector.PolicyByName("nearest")
	assert.Error(err)
}
