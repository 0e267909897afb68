package main

import (
	"testing"
	"time"

	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/manager"
	"github.com/ShayCichocki/relay/internal/recursion"
	"github.com/ShayCichocki/relay/internal/timing"
	"github.com/ShayCichocki/relay/internal/tokenpool"
	"github.com/ShayCichocki/relay/internal/worker"
)

func testManager(t *testing.T) *manager.Manager {
	t.Helper()

	collector := timing.NewCollector()
	pool, err := tokenpool.New([]string{"cred"}, collector)
	if err != nil {
		t.Fatalf("tokenpool.New: %v", err)
	}
	return manager.New(manager.Config{
		Pool:           pool,
		Guard:          recursion.New(2, 0),
		Launcher:       &worker.FakeLauncher{},
		Collector:      collector,
		DefaultTimeout: time.Minute,
	})
}

func TestBuildStrategyModes(t *testing.T) {
	mgr := testManager(t)
	cfg := config.Default()
	cfg.Pool.Credentials = []string{"cred"}
	launcher := &worker.FakeLauncher{}

	for _, mode := range []string{"sync", "forget", "decompose"} {
		runMode = mode
		runSubmode = "sequential"
		strat, err := buildStrategy(mgr, launcher, cfg)
		if err != nil {
			t.Errorf("mode %s: %v", mode, err)
			continue
		}
		if strat == nil {
			t.Errorf("mode %s: nil strategy", mode)
		}
	}
}

func TestBuildStrategyRejectsUnknown(t *testing.T) {
	mgr := testManager(t)
	cfg := config.Default()
	cfg.Pool.Credentials = []string{"cred"}

	runMode = "yolo"
	if _, err := buildStrategy(mgr, &worker.FakeLauncher{}, cfg); err == nil {
		t.Error("unknown mode should error")
	}

	runMode = "decompose"
	runSubmode = "sideways"
	if _, err := buildStrategy(mgr, &worker.FakeLauncher{}, cfg); err == nil {
		t.Error("unknown submode should error")
	}
	runSubmode = "sequential"
}
