package store_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"scribe/internal/pipeline"
	"scribe/internal/store"
	"scribe/internal/testsupport"
	"scribe/internal/workitem"
)

func audio(name string) workitem.Item {
	return workitem.Item{
		Name: name, OriginalName: name, Kind: workitem.KindAudio, Hash: name + "_10", Size: 10,
		Path: "/in/" + name, Audio: &workitem.AudioInfo{Channels: 1, SampleRate: 16000, BitsPerSample: 16, Format: 1},
	}
}

// seed builds a registry with history: a directory of two tasks, one task with
// a failed and restarted upload, and a propagated toggle.
func seed(t *testing.T) *pipeline.Registry {
	t.Helper()
	reg := pipeline.NewRegistry(pipeline.Options{})

	solo := reg.NewTask([]workitem.Item{audio("solo.wav")})
	if err := reg.AddEntry(solo); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	dir := reg.NewDirectory("session", "/in/session")
	if err := reg.AddDirectory(dir, []*pipeline.Task{
		reg.NewTask([]workitem.Item{audio("a.wav")}),
		reg.NewTask([]workitem.Item{audio("b.wav")}),
	}); err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}

	adm, ok := reg.Admit(3)
	if !ok || adm.TaskID != solo.ID {
		t.Fatalf("expected upload of solo, got %+v", adm)
	}
	if err := reg.FailOperation(adm.OperationID, "remote call failed"); err != nil {
		t.Fatalf("FailOperation: %v", err)
	}
	if _, err := reg.RestartFailedOperation(solo.ID); err != nil {
		t.Fatalf("RestartFailedOperation: %v", err)
	}
	if _, err := reg.SetOperationEnabled(solo.ID, pipeline.StageTranslation, true); err != nil {
		t.Fatalf("SetOperationEnabled: %v", err)
	}
	return reg
}

func saveAll(t *testing.T, st *store.Store, snap pipeline.Snapshot) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range snap.Tasks {
		if err := st.SaveTask(ctx, rec); err != nil {
			t.Fatalf("SaveTask: %v", err)
		}
	}
	for _, rec := range snap.Directories {
		if err := st.SaveDirectory(ctx, rec); err != nil {
			t.Fatalf("SaveDirectory: %v", err)
		}
	}
	if err := st.SaveOrder(ctx, snap.Order); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
}

func TestRoundTripPreservesHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	reg := seed(t)
	want := reg.Snapshot()
	saveAll(t, st, want)

	got, err := st.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if !reflect.DeepEqual(got.Order, want.Order) {
		t.Fatalf("order = %+v, want %+v", got.Order, want.Order)
	}
	if len(got.Tasks) != len(want.Tasks) || len(got.Directories) != 1 {
		t.Fatalf("loaded %d tasks and %d directories", len(got.Tasks), len(got.Directories))
	}

	restored := pipeline.NewRegistry(pipeline.Options{})
	if err := restored.Restore(got); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	solo := want.Tasks[0]
	rec, err := restored.Record(solo.ID)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	upload := rec.Operations[pipeline.StageUpload]
	if len(upload.Rounds) != 2 {
		t.Fatalf("expected both upload rounds, got %+v", upload.Rounds)
	}
	if upload.Rounds[0].Status != pipeline.StatusError || upload.Rounds[0].Protocol != "remote call failed" {
		t.Fatalf("first round = %+v", upload.Rounds[0])
	}
	if !upload.Rounds[0].StartedAt.Equal(solo.Operations[pipeline.StageUpload].Rounds[0].StartedAt) {
		t.Fatal("round start time not preserved")
	}
	translation := rec.Operations[pipeline.StageTranslation]
	if !translation.Enabled || !translation.UserToggled {
		t.Fatalf("translation = %+v", translation)
	}
	if rec.Inputs[0].Audio == nil || rec.Inputs[0].Audio.SampleRate != 16000 {
		t.Fatalf("inputs = %+v", rec.Inputs)
	}
}

func TestMaxIDsCoversDirectoriesAndOperations(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	entryID, opID, err := st.MaxIDs(context.Background())
	if err != nil || entryID != 0 || opID != 0 {
		t.Fatalf("empty MaxIDs = %d, %d, %v", entryID, opID, err)
	}

	reg := seed(t)
	snap := reg.Snapshot()
	saveAll(t, st, snap)

	var wantEntry, wantOp int64
	for _, rec := range snap.Tasks {
		wantEntry = max(wantEntry, rec.ID)
		for _, op := range rec.Operations {
			wantOp = max(wantOp, op.ID)
		}
	}
	for _, rec := range snap.Directories {
		wantEntry = max(wantEntry, rec.ID)
	}
	entryID, opID, err = st.MaxIDs(context.Background())
	if err != nil {
		t.Fatalf("MaxIDs: %v", err)
	}
	if entryID != wantEntry || opID != wantOp {
		t.Fatalf("MaxIDs = %d, %d; want %d, %d", entryID, opID, wantEntry, wantOp)
	}
}

func TestRemoveTaskCascades(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	reg := seed(t)
	snap := reg.Snapshot()
	saveAll(t, st, snap)

	ctx := context.Background()
	if err := st.RemoveTask(ctx, snap.Tasks[0].ID); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	health, err := st.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if health.Tasks != len(snap.Tasks)-1 || !health.IntegrityOK {
		t.Fatalf("health = %+v", health)
	}
	loaded, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	for _, rec := range loaded.Tasks {
		if rec.ID == snap.Tasks[0].ID {
			t.Fatal("removed task still loaded")
		}
		if len(rec.Operations) != pipeline.StageCount {
			t.Fatalf("task %d has %d operations", rec.ID, len(rec.Operations))
		}
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[pipeline.StatusPending] != len(snap.Tasks)-1 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestSaveTaskOverwritesRounds(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	reg := pipeline.NewRegistry(pipeline.Options{})
	task := reg.NewTask([]workitem.Item{audio("x.wav")})
	if err := reg.AddEntry(task); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	ctx := context.Background()
	save := func() {
		rec, err := reg.Record(task.ID)
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		if err := st.SaveTask(ctx, rec); err != nil {
			t.Fatalf("SaveTask: %v", err)
		}
	}
	save()
	adm, ok := reg.Admit(3)
	if !ok {
		t.Fatal("expected admission")
	}
	save()
	if err := reg.CompleteOperation(adm.OperationID, []workitem.Item{{Name: "x.wav", Kind: workitem.KindAudio, URL: "file:///u/x.wav"}}, "copied"); err != nil {
		t.Fatalf("CompleteOperation: %v", err)
	}
	save()

	loaded, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	rounds := loaded.Tasks[0].Operations[pipeline.StageUpload].Rounds
	if len(rounds) != 1 || rounds[0].Status != pipeline.StatusFinished || rounds[0].Results[0].URL != "file:///u/x.wav" {
		t.Fatalf("rounds = %+v", rounds)
	}
}

func TestOpenRejectsOtherSchemaVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if _, err := st.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	_ = st.Close()

	raw, err := store.OpenPath(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := raw.SetSchemaVersionForTest(99); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = raw.Close()

	if _, err := store.Open(cfg); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}
