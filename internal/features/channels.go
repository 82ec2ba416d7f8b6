package features

import (
	"fmt"
	"slices"
)

// Source band order of the four-band analytic asset.
const (
	BandBlue = iota
	BandGreen
	BandRed
	BandNIR
	NumBands
)

// Temporal layer order of the {id}_temporal asset.
const (
	TemporalMean = iota
	TemporalMax
	TemporalMin
	TemporalStd
	TemporalDOYMax
	NumTemporal
)

// ChannelSet names an ordered list of channels. The ID and the exact names
// are stored in every checkpoint and checked again at inference.
type ChannelSet struct {
	ID    string   `json:"id"`
	Names []string `json:"names"`
}

var bandNames = []string{"blue", "green", "red", "nir"}

// Known channel sets.
var (
	BandsSet    = ChannelSet{ID: "bands", Names: bandNames}
	IndicesSet  = ChannelSet{ID: "indices", Names: concat(bandNames, "ndvi", "evi")}
	ExtendedSet = ChannelSet{ID: "extended", Names: concat(bandNames, "ndvi", "evi", "savi", "ndwi")}
	TemporalSet = ChannelSet{ID: "temporal", Names: concat(bandNames, "ndvi", "evi",
		"ndvi_mean", "ndvi_max", "ndvi_min", "ndvi_std", "ndvi_doy_max")}
)

func concat(base []string, extra ...string) []string {
	return append(slices.Clone(base), extra...)
}

// LookupChannelSet resolves a channel set by ID.
func LookupChannelSet(id string) (ChannelSet, error) {
	for _, s := range []ChannelSet{BandsSet, IndicesSet, ExtendedSet, TemporalSet} {
		if s.ID == id {
			return s.Clone(), nil
		}
	}
	return ChannelSet{}, fmt.Errorf("unknown channel set %q (want bands, indices, extended or temporal)", id)
}

// Len returns the channel count.
func (s ChannelSet) Len() int { return len(s.Names) }

// Equal reports whether s and o have the same ID and the same names in the
// same order.
func (s ChannelSet) Equal(o ChannelSet) bool {
	return s.ID == o.ID && slices.Equal(s.Names, o.Names)
}

// Clone returns a copy that does not share the names slice.
func (s ChannelSet) Clone() ChannelSet {
	return ChannelSet{ID: s.ID, Names: slices.Clone(s.Names)}
}

// NeedsTemporal reports whether the set includes temporal layers.
func (s ChannelSet) NeedsTemporal() bool {
	return slices.Contains(s.Names, "ndvi_mean")
}

func (s ChannelSet) String() string {
	return fmt.Sprintf("%s%v", s.ID, s.Names)
}
