// Command train runs the full optimization loop: per-epoch training,
// checkpointing, evaluation and history rendering.
package main

import (
	"flag"
	"log"

	"github.com/pkg/errors"

	"github.com/kihoon96/Baseline/checkpoints"
	"github.com/kihoon96/Baseline/config"
	"github.com/kihoon96/Baseline/journal"
	"github.com/kihoon96/Baseline/models"
	"github.com/kihoon96/Baseline/training"
	"github.com/kihoon96/Baseline/vis"
)

func main() {
	configPath := flag.String("config", "", "JSON run configuration; defaults apply when empty")
	resume := flag.Bool("resume", false, "resume from the latest snapshot in the model dir")
	load := flag.String("load", "", "resume from a specific snapshot file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	saver := &checkpoints.Saver{Dir: cfg.Output.ModelDir()}
	rec, err := loadSnapshot(saver, *resume || cfg.Train.Resume, *load)
	if err != nil {
		log.Fatalf("load snapshot: %v", err)
	}

	log.Println("==> Constructing Model...")
	model, err := models.New(cfg.Model, true)
	if err != nil {
		log.Fatalf("build model: %v", err)
	}
	trainable, ok := model.(models.TrainableModel)
	if !ok {
		log.Fatalf("model %q is not trainable", cfg.Model.Name)
	}
	log.Printf("# of model parameters: %d", models.CountParameters(model))

	sources, loaders, err := training.GetDataloader(&cfg, cfg.Data.TrainList, true)
	if err != nil {
		log.Fatalf("prepare train data: %v", err)
	}
	if len(loaders) == 0 {
		log.Fatalf("no train datasets configured")
	}
	var stream training.BatchSource = loaders[0]
	if cfg.Train.PrefetchDepth > 0 {
		pf, err := training.NewPrefetchLoader(loaders[0], cfg.Train.PrefetchDepth)
		if err != nil {
			log.Fatalf("prepare prefetch: %v", err)
		}
		defer pf.Stop()
		stream = pf
	}

	state, err := training.TrainSetup(&cfg, trainable, rec)
	if err != nil {
		log.Fatalf("training setup: %v", err)
	}
	trainer, err := training.NewTrainer(&cfg, trainable, state, sources, stream, saver)
	if err != nil {
		log.Fatalf("build trainer: %v", err)
	}
	tester, err := training.NewTester(&cfg)
	if err != nil {
		log.Fatalf("build tester: %v", err)
	}
	if cfg.Output.JournalPath != "" {
		j, err := journal.Open(cfg.Output.JournalPath)
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
		defer j.Close()
		tester.AttachJournal(j)
	}
	if cfg.Output.PlotServiceURL != "" {
		tester.AttachService(vis.NewService(cfg.Output.PlotServiceURL))
	}

	for epoch := state.BeginEpoch; epoch <= cfg.Train.EndEpoch; epoch++ {
		if _, err := trainer.Train(epoch); err != nil {
			log.Fatalf("epoch %d: %v", epoch, err)
		}
		if err := trainer.SaveEpoch(epoch); err != nil {
			log.Fatalf("save epoch %d: %v", epoch, err)
		}
		if _, err := tester.Test(epoch, trainer.Model()); err != nil {
			log.Fatalf("test epoch %d: %v", epoch, err)
		}
		tester.SaveHistory(state.LossHistory, state.ErrorHistory, epoch)
		state.Scheduler.Step()
	}
}

// loadSnapshot picks the snapshot to restore: an explicit path wins,
// otherwise the newest snapshot when resuming is asked for. A fresh
// start returns nil.
func loadSnapshot(saver *checkpoints.Saver, resume bool, load string) (*checkpoints.Record, error) {
	if load != "" {
		return checkpoints.Load(load)
	}
	if !resume {
		return nil, nil
	}
	path, _, err := saver.Latest()
	if errors.Is(err, checkpoints.ErrNoSnapshot) {
		log.Println("no snapshot to resume from, starting fresh")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return checkpoints.Load(path)
}
