package training

import (
	"log"

	"github.com/pkg/errors"

	"github.com/kihoon96/Baseline/config"
	"github.com/kihoon96/Baseline/datasets"
)

// GetDataloader builds the datasets named in the run configuration
// and wraps them in loaders. For training all sources merge into one
// composite stream behind a single loader; for evaluation each source
// keeps its own loader so metrics stay per set. An empty name list
// yields no datasets and no loaders.
func GetDataloader(cfg *config.Config, names []string, isTrain bool) ([]datasets.Dataset, []*Loader, error) {
	if len(names) == 0 {
		return nil, nil, nil
	}

	split := datasets.SplitTest
	if isTrain {
		split = datasets.SplitTrain
	}
	log.Printf("==> Preparing %s Dataloader...", split)

	transform := datasets.Normalize(datasets.ImageNetMean, datasets.ImageNetStd)
	sources := make([]datasets.Dataset, 0, len(names))
	for _, name := range names {
		ds, err := datasets.New(name, transform, split)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "prepare %s dataset %s", split, name)
		}
		log.Printf("# of %s %s data: %d", split, name, ds.Len())
		sources = append(sources, ds)
	}

	if isTrain {
		loader, err := trainLoader(cfg, sources)
		if err != nil {
			return nil, nil, err
		}
		return sources, []*Loader{loader}, nil
	}

	loaders, err := testLoaders(cfg, names, sources)
	if err != nil {
		return nil, nil, err
	}
	return sources, loaders, nil
}

func trainLoader(cfg *config.Config, sources []datasets.Dataset) (*Loader, error) {
	perSet := cfg.Train.BatchSize / len(sources)
	if perSet < 1 {
		return nil, errors.Errorf("train batch size %d cannot cover %d datasets", cfg.Train.BatchSize, len(sources))
	}
	merged, err := datasets.NewComposite(sources, cfg.Data.Partition, cfg.Data.MakeSameLen)
	if err != nil {
		return nil, errors.Wrap(err, "merge train datasets")
	}
	return NewLoader(merged, LoaderConfig{
		BatchSize: perSet * len(sources),
		Shuffle:   cfg.Train.Shuffle,
		DropLast:  true,
		Workers:   cfg.Train.Workers,
		Seed:      cfg.Train.Seed,
	})
}

func testLoaders(cfg *config.Config, names []string, sources []datasets.Dataset) ([]*Loader, error) {
	perSet := cfg.Test.BatchSize / len(sources)
	if perSet < 1 {
		return nil, errors.Errorf("test batch size %d cannot cover %d datasets", cfg.Test.BatchSize, len(sources))
	}
	loaders := make([]*Loader, 0, len(sources))
	for i, ds := range sources {
		loader, err := NewLoader(ds, LoaderConfig{
			BatchSize: perSet,
			Workers:   cfg.Test.Workers,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "prepare test loader %s", names[i])
		}
		loaders = append(loaders, loader)
	}
	return loaders, nil
}
