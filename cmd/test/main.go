// Command test evaluates one snapshot over the configured test sets.
package main

import (
	"flag"
	"log"

	"github.com/kihoon96/Baseline/checkpoints"
	"github.com/kihoon96/Baseline/config"
	"github.com/kihoon96/Baseline/models"
	"github.com/kihoon96/Baseline/training"
)

func main() {
	configPath := flag.String("config", "", "JSON run configuration; defaults apply when empty")
	load := flag.String("load", "", "snapshot file to evaluate (required)")
	flag.Parse()

	if *load == "" {
		log.Fatal("-load is required")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	rec, err := checkpoints.Load(*load)
	if err != nil {
		log.Fatalf("load snapshot: %v", err)
	}

	log.Println("==> Constructing Model...")
	model, err := models.New(cfg.Model, false)
	if err != nil {
		log.Fatalf("build model: %v", err)
	}
	if err := checkpoints.ApplyWeights(model.Parameters(), rec.Model); err != nil {
		log.Fatalf("restore model weights: %v", err)
	}

	tester, err := training.NewTester(&cfg)
	if err != nil {
		log.Fatalf("build tester: %v", err)
	}
	tester.SetModel(model)
	if _, err := tester.Test(rec.Epoch, nil); err != nil {
		log.Fatalf("test: %v", err)
	}
}
