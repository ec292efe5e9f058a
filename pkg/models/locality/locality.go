package locality

// Locality is the cloud/region/zone placement triple of a node.
// An empty component means unknown/unset.
type Locality struct {
	Cloud  string
	Region string
	Zone   string
}

// ClientLocality describes the caller of a routing request. SelfID is
// set when the caller is itself a server instance; it is matched against
// replica identities before any placement comparison.
type ClientLocality struct {
	SelfID string

	Cloud  string
	Region string
	Zone   string
}

// MatchLevel orders locality affinity, most specific first.
type MatchLevel int

const (
	MatchSelf   = MatchLevel(0)
	MatchZone   = MatchLevel(1)
	MatchRegion = MatchLevel(2)
	MatchCloud  = MatchLevel(3)
	MatchNone   = MatchLevel(4)
)

// Match computes the affinity of a replica placement against the caller.
// Zone is the most specific unit: a zone match implies region and cloud
// match by construction, so the ladder short-circuits top down.
//
// Parameters:
//   - client: the caller's identity and placement.
//   - replicaID: the replica's server identity.
//   - replica: the replica's placement.
//
// Returns:
//   - MatchLevel: the most specific level at which the two localities agree.
func Match(client ClientLocality, replicaID string, replica Locality) MatchLevel {
	if client.SelfID != "" && client.SelfID == replicaID {
		return MatchSelf
	}
	if client.Zone != "" && client.Zone == replica.Zone {
		return MatchZone
	}
	if client.Region != "" && client.Region == replica.Region {
		return MatchRegion
	}
	if client.Cloud != "" && client.Cloud == replica.Cloud {
		return MatchCloud
	}
	return MatchNone
}
