// Package features turns raw four-band surface reflectance into the model's
// channel stack: normalised spectral bands followed by vegetation indices
// and, for the temporal set, per-pixel NDVI statistics across a season.
//
// Every function here is pure. A derived value that cannot be computed
// (zero denominator, or an input pixel already marked invalid) becomes
// NoData: its channel value is 0 and the pixel's valid bit is cleared, so it
// drops out of the training loss and is forced to NoData in predictions.
package features
