package tserver

import (
	"fmt"
	"time"

	"github.com/stratodb/strato/pkg/models/locality"
)

type Health int

const (
	HealthUnknown = Health(0)
	HealthAlive   = Health(1)
	HealthDead    = Health(2)
)

// TServer is one data-serving node of the cluster as seen by the client.
// Keyed by its permanent identity; address and placement may change
// across refreshes for the same identity.
type TServer struct {
	ID        string
	Endpoints []string
	Locality  locality.Locality
	Health    Health
	SeenAt    time.Time
}

func NewTServer(id string, endpoints []string, loc locality.Locality) *TServer {
	return &TServer{
		ID:        id,
		Endpoints: endpoints,
		Locality:  loc,
		Health:    HealthUnknown,
	}
}

// Addr returns the primary reachable endpoint.
func (ts *TServer) Addr() string {
	if len(ts.Endpoints) == 0 {
		return ""
	}
	return ts.Endpoints[0]
}

func (ts *TServer) String() string {
	return fmt.Sprintf("tserver %s at %s (%s/%s/%s)",
		ts.ID, ts.Addr(), ts.Locality.Cloud, ts.Locality.Region, ts.Locality.Zone)
}
