package bench

import (
	"math"
	"math/rand/v2"
	"sync"
)

// Point is a single surfel in a point cloud.
type Point struct {
	X, Y, Z float32
	Weight  float32
}

// PointCloud is a point container shared between frame tasks. Writers
// append under the write lock; readers see a consistent slice for the
// duration of PerformWithReadLock.
type PointCloud struct {
	mu     sync.RWMutex
	points []Point
}

// NewPointCloud returns an empty cloud with room for capacity points.
func NewPointCloud(capacity int) *PointCloud {
	return &PointCloud{points: make([]Point, 0, capacity)}
}

// Append adds points to the cloud.
func (c *PointCloud) Append(points ...Point) {
	c.mu.Lock()
	c.points = append(c.points, points...)
	c.mu.Unlock()
}

// PerformWithReadLock calls fn with the current points. fn must not retain
// the slice or call Append.
func (c *PointCloud) PerformWithReadLock(fn func(points []Point)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.points)
}

// Len returns the number of points.
func (c *PointCloud) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.points)
}

// Centroid returns the weighted centre of the cloud.
func (c *PointCloud) Centroid() (x, y, z float32) {
	c.PerformWithReadLock(func(points []Point) {
		var sx, sy, sz, sw float64
		for _, p := range points {
			w := float64(p.Weight)
			sx += float64(p.X) * w
			sy += float64(p.Y) * w
			sz += float64(p.Z) * w
			sw += w
		}
		if sw == 0 {
			return
		}
		x, y, z = float32(sx/sw), float32(sy/sw), float32(sz/sw)
	})
	return x, y, z
}

// synthesizeFrame generates a deterministic frame of points on a noisy
// sphere, so runs with the same seed integrate identical data.
func synthesizeFrame(seed uint64, frameIndex, n int) []Point {
	rng := rand.New(rand.NewPCG(seed, uint64(frameIndex)))

	points := make([]Point, n)
	for i := range points {
		x, y, z := rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()
		r := 1 + 0.01*rng.NormFloat64()
		norm := r / max(1e-9, math.Sqrt(x*x+y*y+z*z))
		points[i] = Point{
			X:      float32(x * norm),
			Y:      float32(y * norm),
			Z:      float32(z * norm),
			Weight: float32(0.5 + rng.Float64()/2),
		}
	}
	return points
}
