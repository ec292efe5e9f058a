package authority

import (
	"context"
	"fmt"
)

const (
	RoleLeader   = "leader"
	RoleFollower = "follower"
)

type ReplicaLocation struct {
	ID     string `json:"id" yaml:"id"`
	Host   string `json:"host" yaml:"host"`
	Port   int    `json:"port" yaml:"port"`
	Cloud  string `json:"cloud" yaml:"cloud"`
	Region string `json:"region" yaml:"region"`
	Zone   string `json:"zone" yaml:"zone"`
	Role   string `json:"role" yaml:"role"`
}

func (r *ReplicaLocation) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type PartitionBounds struct {
	StartKey []byte `json:"start_key" yaml:"start_key"`
	EndKey   []byte `json:"end_key" yaml:"end_key"`
}

// TabletLocations is the authoritative placement of one tablet as
// reported by the metadata authority.
type TabletLocations struct {
	TabletID  string            `json:"tablet_id" yaml:"tablet_id"`
	TableID   string            `json:"table_id" yaml:"table_id"`
	Partition PartitionBounds   `json:"partition" yaml:"partition"`
	Replicas  []ReplicaLocation `json:"replicas" yaml:"replicas"`
}

// Authority is the cluster metadata service, the source of truth for
// tablet-to-server mappings. Implementations surface table-not-found as
// a typed strato error; transient unavailability is returned raw and
// classified by the lookup coordinator.
type Authority interface {
	GetTableLocations(ctx context.Context, tableID string) ([]*TabletLocations, error)
}

func NewAuthority(kind string, endpoints []string) (Authority, error) {
	switch kind {
	case "etcd":
		return NewEtcdAuthority(endpoints)
	case "mem":
		return NewMemAuthority(), nil
	default:
		return nil, fmt.Errorf("authority implementation %s is invalid", kind)
	}
}
