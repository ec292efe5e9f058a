package authority

import (
	"context"
	"sync"

	"github.com/stratodb/strato/pkg/models/stratoerror"
	"github.com/stratodb/strato/pkg/stratolog"
)

// MemAuthority keeps tablet locations in memory. Used by tests and by
// embedded development clusters that have no external metadata service.
type MemAuthority struct {
	mu sync.RWMutex

	Tables map[string][]*TabletLocations
}

var _ Authority = &MemAuthority{}

func NewMemAuthority() *MemAuthority {
	return &MemAuthority{
		Tables: map[string][]*TabletLocations{},
	}
}

func (m *MemAuthority) GetTableLocations(_ context.Context, tableID string) ([]*TabletLocations, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tablets, ok := m.Tables[tableID]
	if !ok {
		return nil, stratoerror.Newf(stratoerror.STRT_TABLE_NOT_FOUND, "table \"%s\"", tableID)
	}

	ret := make([]*TabletLocations, len(tablets))
	copy(ret, tablets)
	return ret, nil
}

// SetTabletLocations installs or replaces the placement of one tablet.
func (m *MemAuthority) SetTabletLocations(loc *TabletLocations) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stratolog.Zero.Debug().
		Str("table", loc.TableID).
		Str("tablet", loc.TabletID).
		Msg("memauthority: set tablet locations")

	tablets := m.Tables[loc.TableID]
	for i, t := range tablets {
		if t.TabletID == loc.TabletID {
			tablets[i] = loc
			return
		}
	}
	m.Tables[loc.TableID] = append(tablets, loc)
}

// DropTable removes a table and all its tablets.
func (m *MemAuthority) DropTable(tableID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Tables, tableID)
}
