// Package validate sanity-checks launch results on the host. A checker
// recomputes every reported neighbor's distance against the batch points and
// totals the out-of-radius ids; neighbor sets give an order-insensitive view
// for comparing runs.
package validate

import (
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/rango/geom"
	"github.com/hupe1980/rango/launch"
)

var (
	// ErrShapeMismatch is returned when a result's query count does not
	// match the checker's points.
	ErrShapeMismatch = errors.New("validate: result shape does not match points")

	// ErrBadID is returned when a row carries an id outside the batch.
	ErrBadID = errors.New("validate: neighbor id out of range")
)

// Summary totals one batch's recomputed neighbor distances.
type Summary struct {
	// Queries is the number of rows checked.
	Queries int

	// TotalNeighbors counts every id reported across all rows.
	TotalNeighbors int64

	// WrongNeighbors counts reported ids whose recomputed distance exceeds
	// the radius.
	WrongNeighbors int64

	// WrongDistance sums the euclidean distances of the wrong ids.
	WrongDistance float64
}

// AvgNeighbors returns the mean neighbor count per query.
func (s Summary) AvgNeighbors() float64 {
	if s.Queries == 0 {
		return 0
	}

	return float64(s.TotalNeighbors) / float64(s.Queries)
}

// AvgWrongNeighbors returns the mean wrong-neighbor count per query.
func (s Summary) AvgWrongNeighbors() float64 {
	if s.Queries == 0 {
		return 0
	}

	return float64(s.WrongNeighbors) / float64(s.Queries)
}

// AvgWrongDistance returns the mean distance of the wrong ids, or 0 when
// every id was in radius.
func (s Summary) AvgWrongDistance() float64 {
	if s.WrongNeighbors == 0 {
		return 0
	}

	return s.WrongDistance / float64(s.WrongNeighbors)
}

// Checker recomputes neighbor distances for one batch.
type Checker struct {
	points []geom.Vec3
	radius float32
}

// New creates a checker over the batch's points and search radius.
func New(points []geom.Vec3, radius float32) *Checker {
	return &Checker{points: points, radius: radius}
}

// Check scans every row up to its first sentinel, recomputes the squared
// distance of each reported id, and totals the ones the radius does not
// admit.
func (c *Checker) Check(res *launch.Result) (Summary, error) {
	if res.NumQueries != len(c.points) {
		return Summary{}, fmt.Errorf("%w: %d rows, %d points", ErrShapeMismatch, res.NumQueries, len(c.points))
	}

	r2 := c.radius * c.radius

	sum := Summary{Queries: res.NumQueries}
	for q := 0; q < res.NumQueries; q++ {
		for _, id := range res.Neighbors(q) {
			if int(id) >= len(c.points) {
				return Summary{}, fmt.Errorf("%w: query %d reported %d", ErrBadID, q, id)
			}

			sum.TotalNeighbors++

			if d2 := geom.SquaredL2(c.points[q], c.points[id]); d2 > r2 {
				sum.WrongNeighbors++
				sum.WrongDistance += math.Sqrt(float64(d2))
			}
		}
	}

	return sum, nil
}

// NeighborSets is the order-insensitive view of one batch's rows: one id set
// per query. Two launches over the same input agree on these sets even when
// traversal ordered the rows differently.
type NeighborSets struct {
	sets []*roaring.Bitmap
}

// Sets collects each row's ids into a set.
func Sets(res *launch.Result) *NeighborSets {
	sets := make([]*roaring.Bitmap, res.NumQueries)
	for q := range sets {
		rb := roaring.New()
		for _, id := range res.Neighbors(q) {
			rb.Add(id)
		}

		sets[q] = rb
	}

	return &NeighborSets{sets: sets}
}

// Len returns the number of per-query sets.
func (ns *NeighborSets) Len() int {
	return len(ns.sets)
}

// Count returns the number of ids in query q's set.
func (ns *NeighborSets) Count(q int) uint64 {
	return ns.sets[q].GetCardinality()
}

// Contains checks whether query q's set holds id.
func (ns *NeighborSets) Contains(q int, id uint32) bool {
	return ns.sets[q].Contains(id)
}

// Equal reports whether both views hold identical sets for every query.
func (ns *NeighborSets) Equal(other *NeighborSets) bool {
	if len(ns.sets) != len(other.sets) {
		return false
	}

	for q := range ns.sets {
		if !ns.sets[q].Equals(other.sets[q]) {
			return false
		}
	}

	return true
}
