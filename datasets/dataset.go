// Package datasets defines the sample contract the data loaders
// consume and a registry data sources are resolved from by name.
package datasets

import "gorgonia.org/tensor"

// Canonical field names. Loaders stack same-named fields across the
// items of a batch; every tensor for a given field must share a shape.
const (
	FieldImage        = "img"            // [3, H, W]
	FieldJointImg     = "joint_img"      // [J, 2]
	FieldJointCam     = "joint_cam"      // [J, 3]
	FieldSMPLJointCam = "smpl_joint_cam" // [J, 3]
	FieldPose         = "pose"           // [P]
	FieldShape        = "shape"          // [S]
	FieldJointValid   = "joint_valid"    // [J, 1]
	FieldHas3D        = "has_3D"         // [1, 1]
	FieldHasParam     = "has_param"      // [1]
	FieldMeshCam      = "mesh_cam"       // [V, 3]
)

// Split names a dataset factory is constructed for.
const (
	SplitTrain = "train"
	SplitTest  = "test"
)

// Item is one sample: field name to tensor.
type Item map[string]*tensor.Dense

// JointSet describes the joint convention a dataset annotates with.
// Name gates mesh-vertex evaluation: only the benchmark that ships
// ground-truth meshes enables it.
type JointSet struct {
	Name     string
	JointNum int
}

// Dataset is the per-source handle: a length, indexed item access and
// the joint-set descriptor.
type Dataset interface {
	Len() int
	Get(idx int) (Item, error)
	JointSet() JointSet
}
