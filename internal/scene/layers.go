package scene

import "strings"

// Layer identifies one asset of a scene.
type Layer int

const (
	LayerBands Layer = iota
	LayerUDM
	LayerLabels
	LayerTemporal
	LayerPrediction
)

var layerInfo = []struct {
	name   string
	suffix string
	role   string
}{
	LayerBands:      {"analytic_sr", "_3B_AnalyticMS_SR", "data"},
	LayerUDM:        {"udm2", "_3B_udm2", "udm"},
	LayerLabels:     {"reference_wooded", "_reference_wooded", "label"},
	LayerTemporal:   {"temporal", "_temporal", "temporal"},
	LayerPrediction: {"wooded_pred", "_wooded_pred", "prediction"},
}

func (l Layer) String() string { return layerInfo[l].name }

// Role is the STAC asset role that carries the layer.
func (l Layer) Role() string { return layerInfo[l].role }

// AssetBase returns the file base name of a layer, without extension.
func AssetBase(id string, l Layer) string {
	return id + layerInfo[l].suffix
}

// parseAssetName splits "<id><suffix>.<ext>" into its scene ID and layer.
func parseAssetName(name string) (id string, l Layer, ext string, ok bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return "", 0, "", false
	}
	base, ext := name[:dot], name[dot:]
	for i, info := range layerInfo {
		if strings.HasSuffix(base, info.suffix) && len(base) > len(info.suffix) {
			return strings.TrimSuffix(base, info.suffix), Layer(i), ext, true
		}
	}
	return "", 0, "", false
}
