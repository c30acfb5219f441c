// Package eval implements the position-error routines evaluation
// reports: mean per-point Euclidean distance (MPJPE over joints,
// MPVPE over vertices) and its Procrustes-aligned variant (PA-MPJPE).
//
// All functions take flat row-major [n, 3] buffers in a single unit;
// callers convert to millimeters and apply root alignment or joint
// subsetting before measuring.
package eval

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MeanDistance returns the average Euclidean distance between the n
// corresponding points of pred and target.
func MeanDistance(pred, target []float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		dx := pred[i*3] - target[i*3]
		dy := pred[i*3+1] - target[i*3+1]
		dz := pred[i*3+2] - target[i*3+2]
		sum += math.Sqrt(dx*dx + dy*dy + dz*dz)
	}
	return sum / float64(n)
}

// RootRelative returns a copy of points with the root point subtracted
// from every point. The root row of the result is exactly zero.
func RootRelative(points []float64, n, root int) []float64 {
	out := make([]float64, n*3)
	rx, ry, rz := points[root*3], points[root*3+1], points[root*3+2]
	for i := 0; i < n; i++ {
		out[i*3] = points[i*3] - rx
		out[i*3+1] = points[i*3+1] - ry
		out[i*3+2] = points[i*3+2] - rz
	}
	return out
}

// Translate returns a copy of points with origin subtracted from every
// point. Meshes are root-aligned this way, with the root joint of the
// matching joint set as origin.
func Translate(points []float64, n int, origin []float64) []float64 {
	out := make([]float64, n*3)
	for i := 0; i < n; i++ {
		out[i*3] = points[i*3] - origin[0]
		out[i*3+1] = points[i*3+1] - origin[1]
		out[i*3+2] = points[i*3+2] - origin[2]
	}
	return out
}

// Subset gathers the given rows of a flat [n, 3] buffer into a new
// buffer, in index order.
func Subset(points []float64, idx []int) []float64 {
	out := make([]float64, len(idx)*3)
	for i, j := range idx {
		copy(out[i*3:i*3+3], points[j*3:j*3+3])
	}
	return out
}

// RigidAlign solves the similarity Procrustes problem: the rotation,
// uniform scale and translation minimizing the squared error between
// transformed pred and target. It returns the transformed copy of
// pred. A degenerate pred (zero variance) collapses to the target
// centroid.
func RigidAlign(pred, target []float64, n int) ([]float64, error) {
	if n <= 0 {
		return nil, errors.Errorf("cannot align %d points", n)
	}

	var mu1, mu2 [3]float64
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			mu1[k] += pred[i*3+k]
			mu2[k] += target[i*3+k]
		}
	}
	for k := 0; k < 3; k++ {
		mu1[k] /= float64(n)
		mu2[k] /= float64(n)
	}

	x1 := mat.NewDense(n, 3, nil)
	x2 := mat.NewDense(n, 3, nil)
	var1 := 0.0
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			c1 := pred[i*3+k] - mu1[k]
			x1.Set(i, k, c1)
			x2.Set(i, k, target[i*3+k]-mu2[k])
			var1 += c1 * c1
		}
	}
	if var1 < 1e-12 {
		out := make([]float64, n*3)
		for i := 0; i < n; i++ {
			copy(out[i*3:i*3+3], mu2[:])
		}
		return out, nil
	}

	var k3 mat.Dense
	k3.Mul(x1.T(), x2)

	var svd mat.SVD
	if ok := svd.Factorize(&k3, mat.SVDFull); !ok {
		return nil, errors.New("svd did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	sign := 1.0
	if mat.Det(&uvt) < 0 {
		sign = -1
	}

	// R = V * diag(1, 1, sign) * U^T
	z := mat.NewDiagDense(3, []float64{1, 1, sign})
	var zu, r mat.Dense
	zu.Mul(z, u.T())
	r.Mul(&v, &zu)

	var rk mat.Dense
	rk.Mul(&r, &k3)
	scale := mat.Trace(&rk) / var1

	var t [3]float64
	for row := 0; row < 3; row++ {
		s := 0.0
		for col := 0; col < 3; col++ {
			s += r.At(row, col) * mu1[col]
		}
		t[row] = mu2[row] - scale*s
	}

	out := make([]float64, n*3)
	for i := 0; i < n; i++ {
		for row := 0; row < 3; row++ {
			s := t[row]
			for col := 0; col < 3; col++ {
				s += scale * r.At(row, col) * pred[i*3+col]
			}
			out[i*3+row] = s
		}
	}
	return out, nil
}

// PAMeanDistance aligns pred onto target with RigidAlign, then returns
// the mean distance of the aligned points to the target.
func PAMeanDistance(pred, target []float64, n int) (float64, error) {
	aligned, err := RigidAlign(pred, target, n)
	if err != nil {
		return 0, err
	}
	return MeanDistance(aligned, target, n), nil
}
