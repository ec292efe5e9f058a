package locality_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stratodb/strato/pkg/models/locality"
)

func TestMatchLadder(t *testing.T) {
	assert := assert.New(t)

	replica := locality.Locality{Cloud: "aws", Region: "region1", Zone: "zone1"}

	for _, tc := range []struct {
		name   string
		client locality.ClientLocality
		want   locality.MatchLevel
	}{
		{"self wins over everything", locality.ClientLocality{SelfID: "ts-1", Cloud: "gcp", Region: "x", Zone: "y"}, locality.MatchSelf},
		{"zone match", locality.ClientLocality{Zone: "zone1"}, locality.MatchZone},
		{"zone wins over mismatched region", locality.ClientLocality{Zone: "zone1", Region: "region2"}, locality.MatchZone},
		{"region match", locality.ClientLocality{Region: "region1"}, locality.MatchRegion},
		{"cloud match", locality.ClientLocality{Cloud: "aws", Region: "region2", Zone: "zone2"}, locality.MatchCloud},
		{"no match", locality.ClientLocality{Cloud: "gcp"}, locality.MatchNone},
		{"empty client never matches placement", locality.ClientLocality{}, locality.MatchNone},
	} {
		got := locality.Match(tc.client, "ts-1", replica)
		assert.Equal(tc.want, got, tc.name)
	}
}

// Empty replica components must not match an empty client component:
// unknown placement is no placement.
func TestEmptyComponentsDoNotMatch(t *testing.T) {
	assert := assert.New(t)

	got := locality.Match(locality.ClientLocality{}, "ts-1", locality.Locality{})
	assert.Equal(locality.MatchNone, got)
}
