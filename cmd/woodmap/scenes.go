package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/woodland.report/internal/scene"
)

func runRank(ctx context.Context, a *app, args []string) error {
	fset := newFlagSet(a, "rank")
	cfgPath := fset.String("config", "", "run config JSON (defaults when empty)")
	scenes := fset.String("scenes", "", "comma separated scene IDs (overrides the config)")
	top := fset.Int("top", 0, "print only the best N scenes; 0 prints all")
	if err := fset.Parse(args); err != nil {
		return err
	}
	rc, err := loadRunConfig(*cfgPath)
	if err != nil {
		return err
	}
	store, err := a.store(rc)
	if err != nil {
		return err
	}
	ids, err := sceneIDs(ctx, store, rc, splitList(*scenes))
	if err != nil {
		return err
	}
	ranks, err := store.Rank(ctx, ids)
	if err != nil {
		return err
	}
	if *top > 0 && *top < len(ranks) {
		ranks = ranks[:*top]
	}
	fmt.Fprintf(a.stdout, "%-4s %-24s %8s %9s\n", "#", "scene", "clear%", "mean_ndvi")
	for i, r := range ranks {
		ndvi := "-"
		if r.NDVIDefined {
			ndvi = strconv.FormatFloat(r.MeanNDVI, 'f', 4, 64)
		}
		fmt.Fprintf(a.stdout, "%-4d %-24s %8.2f %9s\n", i+1, r.SceneID, r.ClearPercent, ndvi)
	}
	return nil
}

// parseSeries reads "id:doy,id:doy". A missing day of year is resolved
// through STAC when the backend supports it.
func parseSeries(ctx context.Context, b scene.Backend, v string) ([]scene.Acquisition, error) {
	items := splitList(v)
	if len(items) == 0 {
		return nil, fmt.Errorf("-series is required")
	}
	stac, _ := b.(*scene.STACBackend)
	out := make([]scene.Acquisition, 0, len(items))
	for _, item := range items {
		id, doyStr, hasDOY := strings.Cut(item, ":")
		acq := scene.Acquisition{SceneID: id}
		switch {
		case hasDOY:
			doy, err := strconv.Atoi(doyStr)
			if err != nil || doy < 1 || doy > 366 {
				return nil, fmt.Errorf("invalid day of year %q for %s", doyStr, id)
			}
			acq.DOY = doy
		case stac != nil:
			doy, err := stac.AcquisitionDOY(ctx, id)
			if err != nil {
				return nil, err
			}
			acq.DOY = doy
		default:
			return nil, fmt.Errorf("%s: day of year required (id:doy) without a STAC backend", id)
		}
		out = append(out, acq)
	}
	return out, nil
}

func runTemporal(ctx context.Context, a *app, args []string) error {
	fset := newFlagSet(a, "temporal")
	cfgPath := fset.String("config", "", "run config JSON (defaults when empty)")
	target := fset.String("scene", "", "scene whose grid receives the layers (required)")
	series := fset.String("series", "", "comma separated acquisitions, id:doy")
	out := fset.String("out", "", "directory for the temporal raster")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *target == "" {
		fset.Usage()
		return fmt.Errorf("-scene is required")
	}
	rc, err := loadRunConfig(*cfgPath)
	if err != nil {
		return err
	}
	store, err := a.store(rc)
	if err != nil {
		return err
	}
	acqs, err := parseSeries(ctx, store.Backend(), *series)
	if err != nil {
		return err
	}
	layers, err := store.BuildTemporal(ctx, *target, acqs)
	if err != nil {
		return err
	}
	dir := assetDir(rc, *out)
	if err := store.WriteTemporal(ctx, a.fs, dir, *target, layers); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "wrote %s temporal layers for %s from %d acquisitions to %s\n",
		scene.LayerTemporal, *target, len(acqs), dir)
	return nil
}

func runImportLabel(ctx context.Context, a *app, args []string) error {
	fset := newFlagSet(a, "import-label")
	cfgPath := fset.String("config", "", "run config JSON (defaults when empty)")
	id := fset.String("scene", "", "scene the labels belong to (required)")
	tiff := fset.String("tiff", "", "single-band TIFF label raster (required)")
	out := fset.String("out", "", "directory for the reference raster")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *id == "" || *tiff == "" {
		fset.Usage()
		return fmt.Errorf("-scene and -tiff are required")
	}
	rc, err := loadRunConfig(*cfgPath)
	if err != nil {
		return err
	}
	store, err := a.store(rc)
	if err != nil {
		return err
	}
	f, err := a.fs.Open(*tiff)
	if err != nil {
		return fmt.Errorf("open %s: %w", *tiff, err)
	}
	defer f.Close()

	n, err := store.ImportLabels(ctx, a.fs, assetDir(rc, *out), *id, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "imported %d labelled pixels for %s\n", n, *id)
	return nil
}
