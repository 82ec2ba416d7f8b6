package scene

import "fmt"

// AlignmentError reports two layers of a scene that do not share a grid.
type AlignmentError struct {
	SceneID string
	Layer   Layer
	Against Layer
	// Detail names the differing property: extent, resolution, origin or crs.
	Detail string
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("scene %s: %s not aligned with %s: %s", e.SceneID, e.Layer, e.Against, e.Detail)
}

// InsufficientLabelError reports a scene with no usable reference pixels.
type InsufficientLabelError struct {
	SceneID string
	Reason  string
}

func (e *InsufficientLabelError) Error() string {
	return fmt.Sprintf("scene %s: insufficient labels: %s", e.SceneID, e.Reason)
}
