package pointcloud

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hupe1980/rango/geom"
)

// Read parses a delimited point cloud from r.
//
// The first row is both data and schema: its field count fixes the nominal
// dimensionality d, and every following row must carry exactly d fields.
// d is padded to the next multiple of 3; padding columns have no input field
// and are zero-filled. Read fails with a DimensionError when the padded
// dimensionality leaves (0, MaxDim] and with a RowError on any malformed or
// mismatched row.
func Read(r io.Reader) (*BatchStore, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	store := &BatchStore{}
	line := 0
	for scanner.Scan() {
		line++

		fields := strings.Split(scanner.Text(), Delimiter)
		if line == 1 {
			store.rawDim = len(fields)
			store.paddedDim = pad3(store.rawDim)
			if store.paddedDim > MaxDim {
				return nil, &DimensionError{Dim: store.paddedDim}
			}
			store.batches = make([][]geom.Vec3, store.paddedDim/3)
		} else if len(fields) != store.rawDim {
			return nil, &RowError{Line: line, Err: fmt.Errorf("expected %d fields, got %d", store.rawDim, len(fields))}
		}

		coords := make([]float32, store.paddedDim)
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
			if err != nil {
				return nil, &RowError{Line: line, Err: fmt.Errorf("field %d: %w", i+1, err)}
			}
			coords[i] = float32(v)
		}

		for b := range store.batches {
			store.batches[b] = append(store.batches[b], geom.Vec3{
				X: coords[b*3],
				Y: coords[b*3+1],
				Z: coords[b*3+2],
			})
		}
		store.numPoints++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("pointcloud: read: %w", err)
	}

	if store.numPoints == 0 {
		return nil, &DimensionError{Dim: 0}
	}

	return store, nil
}

// pad3 rounds d up to the next multiple of 3.
func pad3(d int) int {
	if d%3 != 0 {
		d = (d/3 + 1) * 3
	}
	return d
}
