// Package scene loads co-registered scene layers and reads aligned windows
// from them.
//
// A scene is a set of BIL rasters sharing one grid: the four-band surface
// reflectance asset, an optional usable-data mask, optional reference labels
// and optional temporal layers. Layers are fetched through a Backend, so the
// same Store serves local directories, HTTP range reads and STAC items.
package scene
