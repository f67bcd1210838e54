package tracking

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterCentroids(t *testing.T) {
	detections := []Detection{
		{Class: "person", Confidence: 0.91, BBox: [4]float64{10, 20, 100, 200}},
		{Class: "dog", Confidence: 0.88, BBox: [4]float64{0, 0, 50, 50}},
		{Class: "person", Confidence: 0.75, BBox: [4]float64{300, 40, 60, 120}},
		{Class: "Person", Confidence: 0.99, BBox: [4]float64{1, 1, 1, 1}},
	}

	got := FilterCentroids(detections, DefaultTrackedClass)
	want := []Centroid{
		{Point: Point{X: 60, Y: 120}, Class: "person"},
		{Point: Point{X: 330, Y: 100}, Class: "person"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FilterCentroids mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterCentroids_DegenerateBoxesPassThrough(t *testing.T) {
	detections := []Detection{
		{Class: "person", BBox: [4]float64{5, 5, 0, 0}},
		{Class: "person", BBox: [4]float64{100, 100, -20, -40}},
	}

	got := FilterCentroids(detections, "person")
	require.Len(t, got, 2)
	assert.Equal(t, Point{X: 5, Y: 5}, got[0].Point)
	assert.Equal(t, Point{X: 90, Y: 80}, got[1].Point)
}

func TestFilterCentroids_Empty(t *testing.T) {
	assert.Empty(t, FilterCentroids(nil, "person"))
	assert.Empty(t, FilterCentroids([]Detection{{Class: "car"}}, "person"))
}

func TestFilterCentroids_DoesNotModifyInput(t *testing.T) {
	detections := []Detection{{Class: "person", BBox: [4]float64{1, 2, 3, 4}}}
	before := append([]Detection(nil), detections...)
	_ = FilterCentroids(detections, "person")
	assert.Equal(t, before, detections)
}

func TestMinScore(t *testing.T) {
	detections := []Detection{
		{Class: "person", Confidence: 0.69},
		{Class: "person", Confidence: 0.7},
		{Class: "person", Confidence: 0.95},
	}

	got := MinScore(detections, 0.7)
	require.Len(t, got, 2)
	assert.Equal(t, 0.7, got[0].Confidence)
	assert.Equal(t, 0.95, got[1].Confidence)

	assert.Len(t, MinScore(detections, 0), 3)
}

func TestPositions(t *testing.T) {
	cs := []Centroid{
		{Point: Point{X: 1, Y: 2}, Class: "person"},
		{Point: Point{X: 3, Y: 4}, Class: "person"},
	}
	assert.Equal(t, []Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, Positions(cs))
}

func TestDetection_DecodesDetectorJSON(t *testing.T) {
	raw := `[{"bbox":[12.5,30,40,80],"class":"person","score":0.873}]`

	var dets []Detection
	require.NoError(t, json.Unmarshal([]byte(raw), &dets))
	require.Len(t, dets, 1)
	assert.Equal(t, "person", dets[0].Class)
	assert.InDelta(t, 0.873, dets[0].Confidence, 1e-9)
	assert.Equal(t, Point{X: 32.5, Y: 70}, dets[0].Center())
}
