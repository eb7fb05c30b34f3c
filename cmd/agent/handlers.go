package main

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// cropAnalysisHandler scores crop condition from NDVI samples.
func cropAnalysisHandler(ctx context.Context, payload map[string]any) (map[string]any, error) {
	samples, err := floatSlice(payload, "ndvi_samples")
	if err != nil {
		return nil, err
	}

	var sum, min, max float64
	min = math.MaxFloat64
	max = -math.MaxFloat64
	for _, v := range samples {
		sum += v
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	mean := sum / float64(len(samples))

	condition := "healthy"
	switch {
	case mean < 0.3:
		condition = "stressed"
	case mean < 0.5:
		condition = "moderate"
	}

	return map[string]any{
		"mean_ndvi": round3(mean),
		"min_ndvi":  round3(min),
		"max_ndvi":  round3(max),
		"condition": condition,
	}, nil
}

// diseaseDetectionHandler flags zones whose lesion coverage crosses the
// treatment threshold.
func diseaseDetectionHandler(ctx context.Context, payload map[string]any) (map[string]any, error) {
	zones, ok := payload["zones"].(map[string]any)
	if !ok || len(zones) == 0 {
		return nil, errors.New("missing 'zones' field")
	}
	threshold := floatOr(payload, "threshold", 0.15)

	affected := []string{}
	worst := 0.0
	for zone, raw := range zones {
		coverage, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("zone %s: coverage must be numeric", zone)
		}
		if coverage >= threshold {
			affected = append(affected, zone)
		}
		worst = math.Max(worst, coverage)
	}

	return map[string]any{
		"affected_zones":     affected,
		"worst_coverage":     round3(worst),
		"treatment_required": len(affected) > 0,
	}, nil
}

// irrigationHandler computes per-zone water allocation from soil moisture
// deficits against the target, bounded by the available supply.
func irrigationHandler(ctx context.Context, payload map[string]any) (map[string]any, error) {
	moisture, ok := payload["soil_moisture"].(map[string]any)
	if !ok || len(moisture) == 0 {
		return nil, errors.New("missing 'soil_moisture' field")
	}
	target := floatOr(payload, "target_moisture", 0.35)
	supply := floatOr(payload, "available_liters", 10000)

	deficits := make(map[string]float64, len(moisture))
	totalDeficit := 0.0
	for zone, raw := range moisture {
		current, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("zone %s: moisture must be numeric", zone)
		}
		d := math.Max(0, target-current)
		deficits[zone] = d
		totalDeficit += d
	}

	allocation := make(map[string]any, len(deficits))
	for zone, d := range deficits {
		liters := 0.0
		if totalDeficit > 0 {
			liters = supply * d / totalDeficit
		}
		allocation[zone] = round3(liters)
	}

	return map[string]any{
		"allocation_liters": allocation,
		"total_deficit":     round3(totalDeficit),
	}, nil
}

// flightPlanningHandler lays out a serpentine survey pattern over a
// rectangular field.
func flightPlanningHandler(ctx context.Context, payload map[string]any) (map[string]any, error) {
	width := floatOr(payload, "field_width_m", 0)
	length := floatOr(payload, "field_length_m", 0)
	if width <= 0 || length <= 0 {
		return nil, errors.New("field_width_m and field_length_m must be positive")
	}
	spacing := floatOr(payload, "pass_spacing_m", 20)
	speed := floatOr(payload, "speed_mps", 8)

	passes := int(math.Ceil(width/spacing)) + 1
	waypoints := make([]map[string]any, 0, passes*2)
	for i := 0; i < passes; i++ {
		x := math.Min(float64(i)*spacing, width)
		y0, y1 := 0.0, length
		if i%2 == 1 {
			y0, y1 = length, 0
		}
		waypoints = append(waypoints,
			map[string]any{"x": round3(x), "y": y0},
			map[string]any{"x": round3(x), "y": y1},
		)
	}

	distance := float64(passes)*length + float64(passes-1)*spacing
	return map[string]any{
		"waypoints":          waypoints,
		"passes":             passes,
		"distance_m":         round3(distance),
		"estimated_time_sec": round3(distance / speed),
	}, nil
}

// fruitCountingHandler extrapolates a tree-level count from sampled
// detections.
func fruitCountingHandler(ctx context.Context, payload map[string]any) (map[string]any, error) {
	counts, err := floatSlice(payload, "sample_counts")
	if err != nil {
		return nil, err
	}
	trees := floatOr(payload, "tree_count", float64(len(counts)))
	if trees <= 0 {
		return nil, errors.New("tree_count must be positive")
	}

	sum := 0.0
	for _, c := range counts {
		sum += c
	}
	perTree := sum / float64(len(counts))

	return map[string]any{
		"sampled_trees":   len(counts),
		"avg_per_tree":    round3(perTree),
		"estimated_total": int(math.Round(perTree * trees)),
	}, nil
}

func floatSlice(payload map[string]any, key string) ([]float64, error) {
	raw, ok := payload[key].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("missing '%s' field", key)
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("'%s' must contain only numbers", key)
		}
		out = append(out, f)
	}
	return out, nil
}

func floatOr(payload map[string]any, key string, fallback float64) float64 {
	if f, ok := toFloat(payload[key]); ok {
		return f
	}
	return fallback
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
