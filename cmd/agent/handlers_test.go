package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCropAnalysisHandler(t *testing.T) {
	ctx := context.Background()

	result, err := cropAnalysisHandler(ctx, map[string]any{
		"ndvi_samples": []any{0.7, 0.8, 0.6},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.7, result["mean_ndvi"])
	assert.Equal(t, "healthy", result["condition"])

	result, err = cropAnalysisHandler(ctx, map[string]any{
		"ndvi_samples": []any{0.1, 0.2},
	})
	require.NoError(t, err)
	assert.Equal(t, "stressed", result["condition"])

	_, err = cropAnalysisHandler(ctx, map[string]any{})
	assert.Error(t, err)
}

func TestDiseaseDetectionHandler(t *testing.T) {
	ctx := context.Background()

	result, err := diseaseDetectionHandler(ctx, map[string]any{
		"zones":     map[string]any{"a1": 0.05, "b2": 0.30},
		"threshold": 0.15,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b2"}, result["affected_zones"])
	assert.Equal(t, true, result["treatment_required"])
	assert.Equal(t, 0.3, result["worst_coverage"])

	result, err = diseaseDetectionHandler(ctx, map[string]any{
		"zones": map[string]any{"a1": 0.01},
	})
	require.NoError(t, err)
	assert.Equal(t, false, result["treatment_required"])

	_, err = diseaseDetectionHandler(ctx, map[string]any{})
	assert.Error(t, err)
}

func TestIrrigationHandler(t *testing.T) {
	ctx := context.Background()

	result, err := irrigationHandler(ctx, map[string]any{
		"soil_moisture":    map[string]any{"north": 0.15, "south": 0.35},
		"target_moisture":  0.35,
		"available_liters": 1000.0,
	})
	require.NoError(t, err)

	allocation := result["allocation_liters"].(map[string]any)
	assert.Equal(t, 1000.0, allocation["north"])
	assert.Equal(t, 0.0, allocation["south"])
	assert.Equal(t, 0.2, result["total_deficit"])

	_, err = irrigationHandler(ctx, map[string]any{})
	assert.Error(t, err)
}

func TestFlightPlanningHandler(t *testing.T) {
	ctx := context.Background()

	result, err := flightPlanningHandler(ctx, map[string]any{
		"field_width_m":  100.0,
		"field_length_m": 200.0,
		"pass_spacing_m": 50.0,
		"speed_mps":      10.0,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result["passes"])

	waypoints := result["waypoints"].([]map[string]any)
	require.Len(t, waypoints, 6)
	assert.Equal(t, 0.0, waypoints[0]["x"])
	assert.Equal(t, 0.0, waypoints[0]["y"])
	// Serpentine: second pass flies back.
	assert.Equal(t, 200.0, waypoints[2]["y"])

	_, err = flightPlanningHandler(ctx, map[string]any{"field_width_m": 100.0})
	assert.Error(t, err)
}

func TestFruitCountingHandler(t *testing.T) {
	ctx := context.Background()

	result, err := fruitCountingHandler(ctx, map[string]any{
		"sample_counts": []any{120.0, 80.0, 100.0},
		"tree_count":    50.0,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result["sampled_trees"])
	assert.Equal(t, 100.0, result["avg_per_tree"])
	assert.Equal(t, 5000, result["estimated_total"])

	_, err = fruitCountingHandler(ctx, map[string]any{})
	assert.Error(t, err)
}
