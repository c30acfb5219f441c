package training

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/kihoon96/Baseline/body"
	"github.com/kihoon96/Baseline/config"
	"github.com/kihoon96/Baseline/datasets"
	"github.com/kihoon96/Baseline/eval"
	"github.com/kihoon96/Baseline/journal"
	"github.com/kihoon96/Baseline/models"
	"github.com/kihoon96/Baseline/vis"
)

// MeshGTDataset names the test set carrying ground-truth meshes.
// Surface error reports only when it is among the evaluated sets.
const MeshGTDataset = "3DPW"

// Error fields hold this sentinel until the first evaluation.
const unevaluated = 9999

// Tester runs evaluation passes over the configured test sets. The
// exported error fields snapshot the latest pass in millimeters.
type Tester struct {
	cfg     *config.Config
	body    *body.Model
	sets    []datasets.Dataset
	loaders []*Loader
	meshGT  []bool
	surface bool
	model   models.Model

	journal *journal.Journal
	service *vis.Service

	MPJPE   float64
	PAMPJPE float64
	MPVPE   float64
}

// NewTester builds the evaluation stage over the configured test list
// and loads the body asset once.
func NewTester(cfg *config.Config) (*Tester, error) {
	sets, loaders, err := GetDataloader(cfg, cfg.Data.TestList, false)
	if err != nil {
		return nil, err
	}
	bm, err := loadBody(cfg)
	if err != nil {
		return nil, err
	}
	return newTester(cfg, bm, sets, loaders)
}

func loadBody(cfg *config.Config) (*body.Model, error) {
	if cfg.Data.BodyAsset == "" {
		return body.Synthetic(cfg.Model.VertexNum, cfg.Model.Seed), nil
	}
	return body.Load(cfg.Data.BodyAsset)
}

func newTester(cfg *config.Config, bm *body.Model, sets []datasets.Dataset, loaders []*Loader) (*Tester, error) {
	if bm == nil {
		return nil, errors.New("tester needs a body model")
	}
	if len(sets) != len(loaders) {
		return nil, errors.Errorf("%d test sets with %d loaders", len(sets), len(loaders))
	}

	meshGT := make([]bool, len(sets))
	surface := false
	for i, ds := range sets {
		if ds.JointSet().Name == MeshGTDataset {
			meshGT[i] = true
			surface = true
		}
	}
	if surface {
		// The evaluation subset indexes the vertex buffer too, so it
		// must fit inside the mesh.
		for _, j := range bm.EvalJoints {
			if j >= bm.VertexNum {
				return nil, errors.Errorf("eval joint %d outside %d vertices", j, bm.VertexNum)
			}
		}
	}

	return &Tester{
		cfg:     cfg,
		body:    bm,
		sets:    sets,
		loaders: loaders,
		meshGT:  meshGT,
		surface: surface,
		MPJPE:   unevaluated,
		PAMPJPE: unevaluated,
		MPVPE:   unevaluated,
	}, nil
}

// SetModel installs the model standalone evaluation falls back to
// when Test is called without one.
func (t *Tester) SetModel(m models.Model) {
	t.model = m
}

// AttachJournal routes SaveHistory epoch rows into a metrics journal.
func (t *Tester) AttachJournal(j *journal.Journal) {
	t.journal = j
}

// AttachService forwards SaveHistory series to a plotting sidecar.
func (t *Tester) AttachService(s *vis.Service) {
	t.service = s
}

// SurfaceError reports whether any test set carries ground-truth
// meshes, which is what enables the MPVPE channel.
func (t *Tester) SurfaceError() bool {
	return t.surface
}

// Test evaluates current (or the installed model when current is nil)
// over every test set and returns the errors in millimeters, averaged
// over the total number of evaluated samples. MPVPE stays zero unless
// a set carries ground-truth meshes.
func (t *Tester) Test(epoch int, current models.Model) (EpochError, error) {
	model := current
	if model == nil {
		model = t.model
	}
	if model == nil {
		return EpochError{}, errors.New("no model to evaluate")
	}
	if len(t.loaders) == 0 {
		return EpochError{}, errors.New("no test sets configured")
	}
	model.Eval()

	var sumJ, sumPA, sumV float64
	total := 0
	for i := range t.loaders {
		sj, spa, sv, err := t.evalSet(i, model)
		if err != nil {
			return EpochError{}, err
		}
		sumJ += sj
		sumPA += spa
		sumV += sv
		total += t.loaders[i].DatasetLen()
	}
	if total == 0 {
		return EpochError{}, errors.New("test sets are empty")
	}

	errs := EpochError{
		MPJPE:   sumJ / float64(total),
		PAMPJPE: sumPA / float64(total),
		MPVPE:   sumV / float64(total),
	}
	t.MPJPE, t.PAMPJPE, t.MPVPE = errs.MPJPE, errs.PAMPJPE, errs.MPVPE

	line := fmt.Sprintf(">> Epoch%d MPJPE: %.2f, PA-MPJPE: %.2f", epoch, errs.MPJPE, errs.PAMPJPE)
	if t.surface {
		line += fmt.Sprintf(", MPVPE: %.2f", errs.MPVPE)
	}
	log.Print(line)
	return errs, nil
}

func (t *Tester) evalSet(set int, model models.Model) (float64, float64, float64, error) {
	loader := t.loaders[set]
	loader.Reset()
	name := t.sets[set].JointSet().Name
	bar := NewProgressBar(fmt.Sprintf("Eval %s", name), loader.Len())

	var sumJ, sumPA, sumV float64
	var shown map[string]float64
	batches := 0
	for {
		batch, err := loader.Next()
		if err != nil {
			return 0, 0, 0, errors.Wrapf(err, "eval %s batch %d", name, batches)
		}
		if batch == nil {
			break
		}
		bj, bpa, bv, n, err := t.evalBatch(set, batches, batch, model)
		if err != nil {
			return 0, 0, 0, errors.Wrapf(err, "eval %s batch %d", name, batches)
		}
		sumJ += bj
		sumPA += bpa
		sumV += bv
		batches++

		if shown == nil || batches%t.cfg.Train.PrintFreq == 0 {
			shown = map[string]float64{
				"mpjpe":    bj / float64(n),
				"pa_mpjpe": bpa / float64(n),
			}
			if t.meshGT[set] {
				shown["mpvpe"] = bv / float64(n)
			}
		}
		bar.Update(batches, shown)
	}
	bar.Finish()
	return sumJ, sumPA, sumV, nil
}

// evalBatch scores one batch and returns summed per-sample errors
// plus the sample count. Joints are recomputed from the predicted
// mesh through the body regressor; the model's own joint output only
// feeds the projection loss during training.
func (t *Tester) evalBatch(set, itr int, batch *Batch, model models.Model) (float64, float64, float64, int, error) {
	img, err := batch.Field(datasets.FieldImage)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	pred, err := model.Forward(img)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	gtJointT, err := batch.Field(datasets.FieldJointCam)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	vNum, jNum := t.body.VertexNum, t.body.JointNum
	meshShape := []int(pred.MeshCam.Shape())
	if len(meshShape) != 3 || meshShape[1] != vNum || meshShape[2] != 3 {
		return 0, 0, 0, 0, errors.Errorf("predicted mesh shape %v does not fit %d vertices", meshShape, vNum)
	}
	jointShape := []int(gtJointT.Shape())
	if len(jointShape) != 3 || jointShape[1] != jNum || jointShape[2] != 3 {
		return 0, 0, 0, 0, errors.Errorf("target joint shape %v does not fit %d joints", jointShape, jNum)
	}
	n := meshShape[0]

	meshData := pred.MeshCam.Data().([]float64)
	gtJointData := gtJointT.Data().([]float64)
	var gtMeshData []float64
	if t.meshGT[set] {
		gtMeshT, err := batch.Field(datasets.FieldMeshCam)
		if err != nil {
			return 0, 0, 0, 0, err
		}
		gtMeshShape := []int(gtMeshT.Shape())
		if len(gtMeshShape) != 3 || gtMeshShape[1] != vNum || gtMeshShape[2] != 3 {
			return 0, 0, 0, 0, errors.Errorf("target mesh shape %v does not fit %d vertices", gtMeshShape, vNum)
		}
		gtMeshData = gtMeshT.Data().([]float64)
	}

	root := t.body.RootJoint
	evalIdx := t.body.EvalJoints
	var sumJ, sumPA, sumV float64
	var vp visPayload
	for s := 0; s < n; s++ {
		predMesh := millimeters(meshData[s*vNum*3 : (s+1)*vNum*3])
		predJoint, err := t.body.RegressJoints(predMesh)
		if err != nil {
			return 0, 0, 0, 0, err
		}
		gtJoint := millimeters(gtJointData[s*jNum*3 : (s+1)*jNum*3])

		predSel := eval.Subset(eval.RootRelative(predJoint, jNum, root), evalIdx)
		gtSel := eval.Subset(eval.RootRelative(gtJoint, jNum, root), evalIdx)
		sumJ += eval.MeanDistance(predSel, gtSel, len(evalIdx))
		pa, err := eval.PAMeanDistance(predSel, gtSel, len(evalIdx))
		if err != nil {
			return 0, 0, 0, 0, err
		}
		sumPA += pa

		var gtMesh []float64
		if gtMeshData != nil {
			gtMesh = millimeters(gtMeshData[s*vNum*3 : (s+1)*vNum*3])
			predAligned := eval.Translate(predMesh, vNum, predJoint[root*3:root*3+3])
			gtAligned := eval.Translate(gtMesh, vNum, gtJoint[root*3:root*3+3])
			sumV += eval.MeanDistance(eval.Subset(predAligned, evalIdx), eval.Subset(gtAligned, evalIdx), len(evalIdx))
		}

		if s == 0 {
			vp = visPayload{predJoint: predJoint, gtJoint: gtJoint, predMesh: predMesh, gtMesh: gtMesh}
		}
	}

	if t.cfg.Test.Vis && itr%t.cfg.Test.VisFreq == 0 {
		t.visualize(itr, img, vp)
	}
	return sumJ, sumPA, sumV, n, nil
}

// visPayload carries the first sample of a batch to the export hook.
type visPayload struct {
	predJoint []float64
	gtJoint   []float64
	predMesh  []float64
	gtMesh    []float64
}

// visualize dumps one sample: the de-normalized network input, both
// skeletons and the meshes. Export failures only log; evaluation
// numbers never depend on the vis directory.
func (t *Tester) visualize(itr int, img *tensor.Dense, vp visPayload) {
	visDir := t.cfg.Output.VisDir()
	if err := os.MkdirAll(visDir, 0o755); err != nil {
		log.Printf("create vis dir %s: %v", visDir, err)
		return
	}

	if shp := []int(img.Shape()); len(shp) == 4 && shp[1] == 3 {
		h, w := shp[2], shp[3]
		rgb := datasets.Denormalize(img.Data().([]float64)[:3*h*w], datasets.ImageNetMean, datasets.ImageNetStd)
		if err := vis.SaveImage(filepath.Join(visDir, fmt.Sprintf("test_%d_img.png", itr)), rgb, h, w); err != nil {
			log.Printf("save input image: %v", err)
		}
	}

	jNum, vNum := t.body.JointNum, t.body.VertexNum
	if err := vis.SavePose(filepath.Join(visDir, fmt.Sprintf("test_%d_joint_cam_pred.png", itr)), vp.predJoint, jNum, t.body.Skeleton); err != nil {
		log.Printf("save predicted pose: %v", err)
	}
	if err := vis.SavePose(filepath.Join(visDir, fmt.Sprintf("test_%d_joint_cam_gt.png", itr)), vp.gtJoint, jNum, t.body.Skeleton); err != nil {
		log.Printf("save target pose: %v", err)
	}
	if err := vis.SaveOBJ(filepath.Join(visDir, fmt.Sprintf("test_%d_mesh_cam_pred.obj", itr)), vp.predMesh, vNum, t.body.Faces); err != nil {
		log.Printf("save predicted mesh: %v", err)
	}
	if vp.gtMesh != nil {
		if err := vis.SaveOBJ(filepath.Join(visDir, fmt.Sprintf("test_%d_mesh_cam_gt.obj", itr)), vp.gtMesh, vNum, t.body.Faces); err != nil {
			log.Printf("save target mesh: %v", err)
		}
	}
}

// SaveHistory appends the latest evaluation to the error history,
// renders every loss and error curve into the graph directory and
// fans the series out to the attached journal and plot service.
// Artifacts are best-effort; training never stops over one.
func (t *Tester) SaveHistory(lh *LossHistory, eh *ErrorHistory, epoch int) {
	eh.Append(EpochError{MPJPE: t.MPJPE, PAMPJPE: t.PAMPJPE, MPVPE: t.MPVPE})

	graphDir := t.cfg.Output.GraphDir()
	if err := os.MkdirAll(graphDir, 0o755); err != nil {
		log.Printf("create graph dir %s: %v", graphDir, err)
	} else {
		t.renderSeries(lh, eh, graphDir)
	}

	if t.journal != nil && lh.Len() > 0 {
		losses := lh.At(lh.Len() - 1)
		err := t.journal.LogEpoch(epoch,
			journal.LossSnapshot{
				Total:      losses.Total,
				Joint:      losses.Joint,
				SMPLJoint:  losses.SMPLJoint,
				Proj:       losses.Proj,
				PoseParam:  losses.PoseParam,
				ShapeParam: losses.ShapeParam,
				Prior:      losses.Prior,
			},
			journal.ErrorSnapshot{MPJPE: t.MPJPE, PAMPJPE: t.PAMPJPE, MPVPE: t.MPVPE})
		if err != nil {
			log.Printf("journal epoch %d: %v", epoch, err)
		}
	}
}

// historySeries maps snapshot keys to plot titles. Error curves mark
// their running minimum, loss curves do not.
var historySeries = []struct {
	key     string
	title   string
	showMin bool
}{
	{eval.MPJPE.Key(), eval.MPJPE.String(), true},
	{eval.PAMPJPE.Key(), eval.PAMPJPE.String(), true},
	{eval.MPVPE.Key(), eval.MPVPE.String(), true},
	{"total_loss", "Total Loss", false},
	{"joint_loss", "Joint Loss", false},
	{"smpl_joint_loss", "SMPL Joint Loss", false},
	{"proj_loss", "Joint Proj Loss", false},
	{"pose_param_loss", "Pose Param Loss", false},
	{"shape_param_loss", "Shape Param Loss", false},
	{"prior_loss", "Prior Loss", false},
}

func (t *Tester) renderSeries(lh *LossHistory, eh *ErrorHistory, dir string) {
	rec := lh.Record()
	for k, v := range eh.Record() {
		rec[k] = v
	}
	for _, s := range historySeries {
		values := rec[s.key]
		if len(values) == 0 {
			continue
		}
		if err := vis.SavePlot(filepath.Join(dir, s.title+".png"), values, s.title, s.showMin); err != nil {
			log.Printf("plot %s: %v", s.title, err)
		}
		if t.service.Enabled() {
			if err := t.service.PostSeries(s.title, values); err != nil {
				log.Printf("post %s: %v", s.title, err)
			}
		}
	}
}

// millimeters converts a meter-scale coordinate buffer.
func millimeters(src []float64) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = v * 1000
	}
	return out
}
