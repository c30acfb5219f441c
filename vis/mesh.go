package vis

import (
	"bufio"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// SaveOBJ writes n vertices and triangular faces as a Wavefront OBJ
// file. Face indices are zero-based on input and written one-based as
// the format requires.
func SaveOBJ(path string, vertices []float64, n int, faces [][3]int) error {
	if n <= 0 || len(vertices) < n*3 {
		return errors.Errorf("mesh needs %d vertices, got %d values", n, len(vertices))
	}
	for _, f := range faces {
		for _, v := range f {
			if v < 0 || v >= n {
				return errors.Errorf("face index %d outside %d vertices", v, n)
			}
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create obj %s", path)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for i := 0; i < n; i++ {
		fmt.Fprintf(w, "v %.6f %.6f %.6f\n", vertices[i*3], vertices[i*3+1], vertices[i*3+2])
	}
	for _, f := range faces {
		fmt.Fprintf(w, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "write obj %s", path)
	}
	return nil
}
