package tracking

// DefaultTrackedClass is the detector label counted by default.
const DefaultTrackedClass = "person"

// Detection is one object reported by the external detector for a single frame.
// The JSON shape follows the COCO-SSD prediction format.
type Detection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"score"`
	BBox       [4]float64 `json:"bbox"` // x, y, width, height (pixel coordinates)
}

// Point is a position in frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Centroid is the center of a filtered detection's bounding box.
type Centroid struct {
	Point
	Class string `json:"class"`
}

// Center returns the geometric center of the detection's bounding box.
// Boxes are not validated: zero-area or negative boxes still produce a point.
func (d Detection) Center() Point {
	return Point{
		X: d.BBox[0] + d.BBox[2]/2,
		Y: d.BBox[1] + d.BBox[3]/2,
	}
}

// FilterCentroids keeps the detections labelled class, in input order,
// reduced to their centroids.
func FilterCentroids(detections []Detection, class string) []Centroid {
	out := make([]Centroid, 0, len(detections))
	for _, d := range detections {
		if d.Class != class {
			continue
		}
		out = append(out, Centroid{Point: d.Center(), Class: d.Class})
	}
	return out
}

// MinScore drops detections whose confidence is below min.
func MinScore(detections []Detection, min float64) []Detection {
	if min <= 0 {
		return detections
	}
	out := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence >= min {
			out = append(out, d)
		}
	}
	return out
}

// Positions strips the class label from a list of centroids.
func Positions(centroids []Centroid) []Point {
	pts := make([]Point, len(centroids))
	for i, c := range centroids {
		pts[i] = c.Point
	}
	return pts
}
