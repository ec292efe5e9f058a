package selector

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/stratodb/strato/pkg/models/locality"
	"github.com/stratodb/strato/pkg/models/stratoerror"
	"github.com/stratodb/strato/pkg/models/tablet"
	"github.com/stratodb/strato/pkg/models/tserver"
)

type Policy int

const (
	ClosestReplica = Policy(0)
	LeaderOnly     = Policy(1)
	AnyAvailable   = Policy(2)
)

func PolicyByName(name string) (Policy, error) {
	switch name {
	case "closest", "closest_replica", "":
		return ClosestReplica, nil
	case "leader", "leader_only":
		return LeaderOnly, nil
	case "any", "any_available":
		return AnyAvailable, nil
	default:
		return 0, fmt.Errorf("unknown replica selection policy: %s", name)
	}
}

// Selection is a routing decision: the chosen replica plus the remaining
// candidates in ranked fallback order.
type Selection struct {
	Target    tablet.ResolvedReplica
	Fallbacks []tablet.ResolvedReplica
}

// RotationCursor carries the cross-call rotation state of the
// AnyAvailable policy. It is owned by the caller so the selection
// functions themselves stay pure.
type RotationCursor struct {
	n atomic.Uint64
}

func (rc *RotationCursor) next() uint64 {
	return rc.n.Inc() - 1
}

// Select ranks the replicas of a tablet record for the given caller and
// policy and returns the preferred one plus ordered fallbacks. Excluded
// identities and replicas resolved to a Dead directory entry are never
// returned. Safe for concurrent use without locking; cursor is only read
// for the AnyAvailable policy and may be nil otherwise.
func Select(replicas []tablet.ResolvedReplica, client locality.ClientLocality, policy Policy, excluded map[string]struct{}, cursor *RotationCursor) (*Selection, error) {
	live := filterLive(replicas, excluded)

	switch policy {
	case ClosestReplica:
		return selectClosest(live, client)
	case LeaderOnly:
		return selectLeader(live)
	case AnyAvailable:
		return selectAny(live, cursor)
	default:
		return nil, stratoerror.Newf(stratoerror.STRT_UNEXPECTED, "unknown selection policy %d", policy)
	}
}

func filterLive(replicas []tablet.ResolvedReplica, excluded map[string]struct{}) []tablet.ResolvedReplica {
	live := make([]tablet.ResolvedReplica, 0, len(replicas))
	for _, r := range replicas {
		if _, ok := excluded[r.ServerID]; ok {
			continue
		}
		if r.Server != nil && r.Server.Health == tserver.HealthDead {
			continue
		}
		live = append(live, r)
	}
	return live
}

// selectClosest buckets candidates by locality affinity and walks the
// tiers most specific first. Within a tier the original list order is
// kept, so selection is reproducible.
func selectClosest(live []tablet.ResolvedReplica, client locality.ClientLocality) (*Selection, error) {
	if len(live) == 0 {
		return nil, stratoerror.New(stratoerror.STRT_NO_REPLICA, "all replicas excluded or dead")
	}

	var tiers [locality.MatchNone + 1][]tablet.ResolvedReplica
	for _, r := range live {
		var loc locality.Locality
		if r.Server != nil {
			loc = r.Server.Locality
		}
		lvl := locality.Match(client, r.ServerID, loc)
		tiers[lvl] = append(tiers[lvl], r)
	}

	ranked := make([]tablet.ResolvedReplica, 0, len(live))
	for lvl := locality.MatchSelf; lvl <= locality.MatchNone; lvl++ {
		ranked = append(ranked, tiers[lvl]...)
	}
	return &Selection{Target: ranked[0], Fallbacks: ranked[1:]}, nil
}

// selectLeader never falls back to a follower: leader info is often
// stale right after an election and the caller retries after a refresh.
func selectLeader(live []tablet.ResolvedReplica) (*Selection, error) {
	leaders := make([]tablet.ResolvedReplica, 0, 1)
	for _, r := range live {
		if r.Role == tablet.RoleLeader {
			leaders = append(leaders, r)
		}
	}
	if len(leaders) == 0 {
		return nil, stratoerror.New(stratoerror.STRT_NO_LEADER, "no replica is currently marked leader")
	}
	return &Selection{Target: leaders[0], Fallbacks: leaders[1:]}, nil
}

func selectAny(live []tablet.ResolvedReplica, cursor *RotationCursor) (*Selection, error) {
	if len(live) == 0 {
		return nil, stratoerror.New(stratoerror.STRT_NO_REPLICA, "all replicas excluded or dead")
	}
	var shift uint64
	if cursor != nil {
		shift = cursor.next()
	}
	off := int(shift % uint64(len(live)))
	ranked := make([]tablet.ResolvedReplica, 0, len(live))
	ranked = append(ranked, live[off:]...)
	ranked = append(ranked, live[:off]...)
	return &Selection{Target: ranked[0], Fallbacks: ranked[1:]}, nil
}
