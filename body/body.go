// Package body loads the body-model asset shared by evaluation and
// visualization: the joint regressor that maps a mesh to its joints,
// the kinematic skeleton, and the joint subset errors are reported on.
package body

import (
	"encoding/json"
	"math/rand"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Human36JointNames lists the 17-joint set used by the built-in body,
// in regressor row order.
var Human36JointNames = []string{
	"Pelvis", "R_Hip", "R_Knee", "R_Ankle", "L_Hip", "L_Knee", "L_Ankle",
	"Torso", "Neck", "Nose", "Head",
	"L_Shoulder", "L_Elbow", "L_Wrist", "R_Shoulder", "R_Elbow", "R_Wrist",
}

// Human36Skeleton connects the 17 joints into the usual stick figure.
var Human36Skeleton = [][2]int{
	{0, 7}, {7, 8}, {8, 9}, {9, 10},
	{8, 11}, {11, 12}, {12, 13},
	{8, 14}, {14, 15}, {15, 16},
	{0, 1}, {1, 2}, {2, 3},
	{0, 4}, {4, 5}, {5, 6},
}

// Human36EvalJoints is the 14-joint subset errors are averaged over.
// Pelvis, torso and nose are excluded.
var Human36EvalJoints = []int{1, 2, 3, 4, 5, 6, 8, 10, 11, 12, 13, 14, 15, 16}

// Model is the loaded body asset. Regressor has one row per joint and
// one column per mesh vertex; multiplying it with a vertex matrix
// yields the joint coordinates.
type Model struct {
	Name       string
	JointNum   int
	VertexNum  int
	RootJoint  int
	EvalJoints []int
	JointNames []string
	Skeleton   [][2]int
	Faces      [][3]int
	Regressor  *mat.Dense
}

type assetFile struct {
	Name           string      `json:"name"`
	JointNum       int         `json:"joint_num"`
	VertexNum      int         `json:"vertex_num"`
	RootJoint      int         `json:"root_joint"`
	EvalJoints     []int       `json:"eval_joints"`
	JointNames     []string    `json:"joint_names"`
	Skeleton       [][2]int    `json:"skeleton"`
	Faces          [][3]int    `json:"faces"`
	JointRegressor [][]float64 `json:"joint_regressor"`
}

// Load reads a body asset from its JSON file.
func Load(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read body asset %s", path)
	}
	var af assetFile
	if err := json.Unmarshal(raw, &af); err != nil {
		return nil, errors.Wrapf(err, "decode body asset %s", path)
	}

	if len(af.JointRegressor) != af.JointNum {
		return nil, errors.Errorf("body asset %s: regressor has %d rows for %d joints", path, len(af.JointRegressor), af.JointNum)
	}
	data := make([]float64, 0, af.JointNum*af.VertexNum)
	for j, row := range af.JointRegressor {
		if len(row) != af.VertexNum {
			return nil, errors.Errorf("body asset %s: regressor row %d has %d cols for %d vertices", path, j, len(row), af.VertexNum)
		}
		data = append(data, row...)
	}

	m := &Model{
		Name:       af.Name,
		JointNum:   af.JointNum,
		VertexNum:  af.VertexNum,
		RootJoint:  af.RootJoint,
		EvalJoints: af.EvalJoints,
		JointNames: af.JointNames,
		Skeleton:   af.Skeleton,
		Faces:      af.Faces,
		Regressor:  mat.NewDense(af.JointNum, af.VertexNum, data),
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrapf(err, "body asset %s", path)
	}
	return m, nil
}

// Synthetic builds a deterministic 17-joint body over vertexNum mesh
// vertices. Each regressor row is a convex combination of vertices, so
// regressed joints stay inside the mesh hull like a real regressor's.
func Synthetic(vertexNum int, seed int64) *Model {
	rng := rand.New(rand.NewSource(seed))
	jointNum := len(Human36JointNames)

	data := make([]float64, jointNum*vertexNum)
	for j := 0; j < jointNum; j++ {
		row := data[j*vertexNum : (j+1)*vertexNum]
		sum := 0.0
		for v := range row {
			row[v] = rng.Float64()
			sum += row[v]
		}
		for v := range row {
			row[v] /= sum
		}
	}

	faces := make([][3]int, 0, vertexNum-2)
	for v := 1; v < vertexNum-1; v++ {
		faces = append(faces, [3]int{0, v, v + 1})
	}

	return &Model{
		Name:       "synthetic",
		JointNum:   jointNum,
		VertexNum:  vertexNum,
		RootJoint:  0,
		EvalJoints: append([]int(nil), Human36EvalJoints...),
		JointNames: append([]string(nil), Human36JointNames...),
		Skeleton:   append([][2]int(nil), Human36Skeleton...),
		Faces:      faces,
		Regressor:  mat.NewDense(jointNum, vertexNum, data),
	}
}

// Validate checks the asset's internal consistency.
func (m *Model) Validate() error {
	if m.JointNum <= 0 || m.VertexNum <= 0 {
		return errors.Errorf("joint/vertex counts must be positive, got %d/%d", m.JointNum, m.VertexNum)
	}
	r, c := m.Regressor.Dims()
	if r != m.JointNum || c != m.VertexNum {
		return errors.Errorf("regressor is %dx%d, want %dx%d", r, c, m.JointNum, m.VertexNum)
	}
	if m.RootJoint < 0 || m.RootJoint >= m.JointNum {
		return errors.Errorf("root joint %d out of range [0, %d)", m.RootJoint, m.JointNum)
	}
	if len(m.EvalJoints) == 0 {
		return errors.New("eval joints must not be empty")
	}
	for _, j := range m.EvalJoints {
		if j < 0 || j >= m.JointNum {
			return errors.Errorf("eval joint %d out of range [0, %d)", j, m.JointNum)
		}
	}
	if len(m.JointNames) != 0 && len(m.JointNames) != m.JointNum {
		return errors.Errorf("%d joint names for %d joints", len(m.JointNames), m.JointNum)
	}
	for _, e := range m.Skeleton {
		if e[0] < 0 || e[0] >= m.JointNum || e[1] < 0 || e[1] >= m.JointNum {
			return errors.Errorf("skeleton edge %v out of range [0, %d)", e, m.JointNum)
		}
	}
	for _, f := range m.Faces {
		for _, v := range f {
			if v < 0 || v >= m.VertexNum {
				return errors.Errorf("face %v out of range [0, %d)", f, m.VertexNum)
			}
		}
	}
	return nil
}

// RegressJoints maps a flat row-major [VertexNum, 3] mesh to its flat
// [JointNum, 3] joint coordinates.
func (m *Model) RegressJoints(mesh []float64) ([]float64, error) {
	if len(mesh) != m.VertexNum*3 {
		return nil, errors.Errorf("mesh has %d values, want %d", len(mesh), m.VertexNum*3)
	}
	var out mat.Dense
	out.Mul(m.Regressor, mat.NewDense(m.VertexNum, 3, mesh))

	joints := make([]float64, m.JointNum*3)
	for j := 0; j < m.JointNum; j++ {
		for k := 0; k < 3; k++ {
			joints[j*3+k] = out.At(j, k)
		}
	}
	return joints, nil
}

// Save writes the asset back out as JSON, the inverse of Load.
func (m *Model) Save(path string) error {
	rows := make([][]float64, m.JointNum)
	for j := 0; j < m.JointNum; j++ {
		rows[j] = mat.Row(nil, j, m.Regressor)
	}
	af := assetFile{
		Name:           m.Name,
		JointNum:       m.JointNum,
		VertexNum:      m.VertexNum,
		RootJoint:      m.RootJoint,
		EvalJoints:     m.EvalJoints,
		JointNames:     m.JointNames,
		Skeleton:       m.Skeleton,
		Faces:          m.Faces,
		JointRegressor: rows,
	}
	raw, err := json.MarshalIndent(&af, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode body asset")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "write body asset %s", path)
	}
	return nil
}
