package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyclaw/rustyclaw/internal/events"
	"github.com/rustyclaw/rustyclaw/internal/policy"
)

func testSkill(name, policyLevel string) *Skill {
	return &Skill{
		Manifest: Manifest{
			Name:        name,
			Description: "a test skill",
			Runtime:     RuntimeBash,
			Policy:      policyLevel,
			TimeoutSecs: 5,
		},
		Body:       "echo $SKILL_ARGS",
		SourcePath: "/skills/" + name + ".md",
	}
}

func TestRegistryLoadReplacesAndRegistersPolicy(t *testing.T) {
	engine := policy.NewEngine(nil)
	bus := events.NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	reg := NewRegistry(engine, bus, nil)
	reg.Load(testSkill("echo", "allow"))

	if decision := engine.Decide("s", "echo", false); decision.Kind != policy.Allowed {
		t.Errorf("skill policy not registered: %v", decision.Kind)
	}
	select {
	case ev := <-ch:
		if ev.Type != events.ToolUpdated || ev.Name != "echo" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no ToolUpdated event")
	}

	// Loading the same name replaces the entry and its policy.
	reg.Load(testSkill("echo", "elevated"))
	if got := engine.Level("echo"); got != policy.Elevated {
		t.Errorf("replacement policy = %v, want elevated", got)
	}
	if len(reg.List()) != 1 {
		t.Errorf("List = %d entries, want 1", len(reg.List()))
	}
}

func TestRegistryUnloadPublishesAndDeregisters(t *testing.T) {
	engine := policy.NewEngine(nil)
	bus := events.NewBus()
	reg := NewRegistry(engine, bus, nil)
	reg.Load(testSkill("echo", "allow"))

	ch, cancel := bus.Subscribe()
	defer cancel()
	reg.Unload("echo")

	if _, ok := reg.Get("echo"); ok {
		t.Error("skill still present after Unload")
	}
	if decision := engine.Decide("s", "echo", false); decision.Kind != policy.Denied {
		t.Errorf("unloaded skill decision = %v, want Denied", decision.Kind)
	}
	select {
	case ev := <-ch:
		if ev.Type != events.ToolRemoved || ev.Name != "echo" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no ToolRemoved event")
	}
}

func TestRegistryUnloadByPath(t *testing.T) {
	reg := NewRegistry(nil, nil, nil)
	reg.Load(testSkill("alpha", "allow"))
	reg.Load(testSkill("beta", "allow"))

	reg.UnloadByPath("/skills/alpha.md")
	if _, ok := reg.Get("alpha"); ok {
		t.Error("alpha survived UnloadByPath")
	}
	if _, ok := reg.Get("beta"); !ok {
		t.Error("beta was removed by UnloadByPath")
	}
}

func TestScanDirSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "good.md"), []byte(validSkill), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.md"), []byte("not a skill"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	reg := NewRegistry(nil, nil, nil)
	if err := reg.ScanDir(dir); err != nil {
		t.Fatalf("ScanDir: %v", err)
	}
	if len(reg.List()) != 1 {
		t.Fatalf("List = %d entries, want 1 (bad files skipped)", len(reg.List()))
	}
	if _, ok := reg.Get("test_skill"); !ok {
		t.Error("good skill not loaded")
	}
}

func TestWatcherHotReload(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(nil, nil, nil)
	w := NewWatcher(dir, reg, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	path := filepath.Join(dir, "echo.md")
	if err := os.WriteFile(path, []byte(validSkill), 0o644); err != nil {
		t.Fatalf("write skill: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, ok := reg.Get("test_skill")
		return ok
	}, "skill not loaded after create")

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove skill: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, ok := reg.Get("test_skill")
		return !ok
	}, "skill not unloaded after delete")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
