package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/openfield/crmsync/internal/localstore"
	"github.com/openfield/crmsync/internal/mapper"
	"github.com/openfield/crmsync/internal/model"
	"github.com/openfield/crmsync/internal/remote"
)

const testTenant = "tenant-1"

func testConfig() *Config {
	return &Config{
		Debounce:         40 * time.Millisecond,
		TaxonomyDebounce: 40 * time.Millisecond,
		Settle:           80 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

func setupEngine(t *testing.T, store *remote.MemoryStore, cfg *Config) (*Engine, *localstore.Store) {
	t.Helper()
	local, err := localstore.Open(filepath.Join(t.TempDir(), "crm.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = local.Close() })
	if err := local.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() error: %v", err)
	}
	if cfg == nil {
		cfg = testConfig()
	}
	eng := New(local, store, cfg)
	t.Cleanup(eng.StopSync)
	return eng, local
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func seedRemoteContact(t *testing.T, store *remote.MemoryStore, id int64, name, updatedAt string) {
	t.Helper()
	c := model.Contact{ID: id, Name: name, CreatedAt: updatedAt, UpdatedAt: updatedAt}
	err := store.UpsertMerge(context.Background(), testTenant, model.Contacts, mapper.DocID(id), mapper.EncodeContact(c))
	if err != nil {
		t.Fatalf("seed contact %d: %v", id, err)
	}
}

func TestStartSyncPullsFullRemoteWithoutWatermark(t *testing.T) {
	store := remote.NewMemoryStore()
	now := model.Now()
	for i := int64(1); i <= 50; i++ {
		seedRemoteContact(t, store, i, fmt.Sprintf("Contact %d", i), now)
	}

	eng, local := setupEngine(t, store, nil)
	ctx := context.Background()

	if err := eng.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync() error: %v", err)
	}

	contacts, err := local.Contacts(ctx)
	if err != nil {
		t.Fatalf("Contacts() error: %v", err)
	}
	if len(contacts) != 50 {
		t.Fatalf("got %d contacts, want 50", len(contacts))
	}
	for _, c := range contacts {
		if c.LastSyncedAt != c.UpdatedAt {
			t.Errorf("contact %d: LastSyncedAt = %q, want %q", c.ID, c.LastSyncedAt, c.UpdatedAt)
		}
		if model.IsDirty(c.UpdatedAt, c.LastSyncedAt) {
			t.Errorf("contact %d should not be dirty after pull", c.ID)
		}
	}

	wm, err := local.Watermark(ctx)
	if err != nil {
		t.Fatalf("Watermark() error: %v", err)
	}
	if wm == "" {
		t.Error("watermark should be set after StartSync")
	}
}

func TestIncrementalPullRespectsWatermark(t *testing.T) {
	store := remote.NewMemoryStore()
	seedRemoteContact(t, store, 1, "Old", "2026-01-01T00:00:00.000Z")
	seedRemoteContact(t, store, 2, "New", "2026-06-01T00:00:00.000Z")

	eng, local := setupEngine(t, store, nil)
	ctx := context.Background()

	if err := local.SetWatermark(ctx, "2026-03-01T00:00:00.000Z"); err != nil {
		t.Fatalf("SetWatermark() error: %v", err)
	}
	if err := eng.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync() error: %v", err)
	}

	if _, found, _ := local.GetContact(ctx, 1); found {
		t.Error("contact below the watermark should not have been pulled")
	}
	if _, found, _ := local.GetContact(ctx, 2); !found {
		t.Error("contact above the watermark should have been pulled")
	}
}

func TestPushDebounceCollapsesBurst(t *testing.T) {
	store := remote.NewMemoryStore()
	cfg := testConfig()
	cfg.Debounce = 150 * time.Millisecond
	cfg.Settle = 200 * time.Millisecond
	eng, local := setupEngine(t, store, cfg)
	ctx := context.Background()

	if err := eng.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync() error: %v", err)
	}

	task := &model.Task{ContactID: 1, Title: "draft"}
	if err := local.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask() error: %v", err)
	}
	for _, title := range []string{"draft 2", "draft 3", "final"} {
		task.Title = title
		if err := local.SaveTask(ctx, task); err != nil {
			t.Fatalf("SaveTask() error: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		return store.Upserts(model.Tasks) > 0
	}, "task was never pushed")

	if got := store.Upserts(model.Tasks); got != 1 {
		t.Errorf("got %d upserts, want 1 (burst should collapse)", got)
	}
	doc, found, err := store.Get(ctx, testTenant, model.Tasks, mapper.DocID(task.ID))
	if err != nil || !found {
		t.Fatalf("Get() = found=%v err=%v", found, err)
	}
	if doc.Fields["title"] != "final" {
		t.Errorf("pushed title = %v, want final state", doc.Fields["title"])
	}

	waitFor(t, 2*time.Second, func() bool {
		got, found, err := local.GetTask(ctx, task.ID)
		return err == nil && found && !model.IsDirty(got.UpdatedAt, got.LastSyncedAt)
	}, "task should be clean after a confirmed push")
}

func TestPullDoesNotEchoBack(t *testing.T) {
	store := remote.NewMemoryStore()
	now := model.Now()
	for i := int64(1); i <= 5; i++ {
		seedRemoteContact(t, store, i, fmt.Sprintf("Contact %d", i), now)
	}
	base := store.Upserts(model.Contacts)

	eng, _ := setupEngine(t, store, nil)
	if err := eng.StartSync(context.Background(), testTenant); err != nil {
		t.Fatalf("StartSync() error: %v", err)
	}

	// Long enough for several debounce windows to elapse.
	time.Sleep(300 * time.Millisecond)

	if got := store.Upserts(model.Contacts); got != base {
		t.Errorf("pulled contacts were echoed back: %d extra upserts", got-base)
	}
}

func TestTaxonomySetReconciliation(t *testing.T) {
	store := remote.NewMemoryStore()
	ctx := context.Background()

	// A stale remote-only item, updated before the session starts so
	// the live listener never replays it locally.
	stale := model.TaxonomyItem{Type: model.TypeStage, LocalID: 9, Name: "Stale", UpdatedAt: "2026-01-01T00:00:00.000Z"}
	if err := store.UpsertMerge(ctx, testTenant, model.Taxonomies, stale.Key(), mapper.EncodeTaxonomyItem(stale)); err != nil {
		t.Fatalf("seed taxonomy: %v", err)
	}

	eng, local := setupEngine(t, store, nil)
	if err := eng.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync() error: %v", err)
	}

	// The full taxonomy pull landed the stale item; deleting it
	// locally plus adding new items must converge remote to local.
	if err := local.DeleteTaxonomyItem(ctx, model.TypeStage, 9); err != nil {
		t.Fatalf("DeleteTaxonomyItem() error: %v", err)
	}
	items := []model.TaxonomyItem{
		{Type: model.TypeStage, LocalID: 1, Name: "Lead", Position: 1},
		{Type: model.TypePriority, LocalID: 2, Name: "High", Position: 1},
	}
	for i := range items {
		if err := local.SaveTaxonomyItem(ctx, &items[i]); err != nil {
			t.Fatalf("SaveTaxonomyItem() error: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		docs, err := store.GetAll(ctx, testTenant, model.Taxonomies)
		if err != nil || len(docs) != 2 {
			return false
		}
		keys := map[string]bool{}
		for _, d := range docs {
			keys[d.ID] = true
		}
		return keys["stage_1"] && keys["priority_2"]
	}, "remote taxonomy set should equal the local set after one cycle")
}

func TestRemoteDeleteRemovesLocalRecord(t *testing.T) {
	store := remote.NewMemoryStore()
	eng, local := setupEngine(t, store, nil)
	ctx := context.Background()

	if err := eng.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync() error: %v", err)
	}

	entry := &model.ActivityLogEntry{ContactID: 1, Kind: model.KindCall, Summary: "intro call"}
	if err := local.SaveActivity(ctx, entry); err != nil {
		t.Fatalf("SaveActivity() error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return store.Upserts(model.Activities) > 0
	}, "activity was never pushed")

	if err := store.Delete(ctx, testTenant, model.Activities, mapper.DocID(entry.ID)); err != nil {
		t.Fatalf("remote Delete() error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, found, err := local.GetActivity(ctx, entry.ID)
		return err == nil && !found
	}, "remote deletion should remove the local record")
}

func TestConvergenceAcrossSessions(t *testing.T) {
	store := remote.NewMemoryStore()
	ctx := context.Background()

	engA, localA := setupEngine(t, store, nil)
	engB, localB := setupEngine(t, store, nil)

	// Device A writes first and syncs.
	t0 := model.Now()
	first := model.Contact{ID: 1, Name: "first", CreatedAt: t0, UpdatedAt: t0}
	if err := localA.ApplyContact(ctx, &first); err != nil {
		t.Fatalf("ApplyContact() error: %v", err)
	}
	if err := engA.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync(A) error: %v", err)
	}
	waitForContactPush(t, store, 1)
	engA.StopSync()

	// Device B writes the same contact later and syncs. The later
	// stamp is also past A's watermark, so A's next incremental pull
	// picks it up.
	time.Sleep(5 * time.Millisecond)
	t1 := model.Now()
	second := model.Contact{ID: 1, Name: "second", CreatedAt: t0, UpdatedAt: t1}
	if err := localB.ApplyContact(ctx, &second); err != nil {
		t.Fatalf("ApplyContact() error: %v", err)
	}
	if err := engB.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync(B) error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		doc, found, err := store.Get(ctx, testTenant, model.Contacts, "1")
		return err == nil && found && doc.Fields["name"] == "second"
	}, "later write should reach remote")
	engB.StopSync()

	// A resyncs and must converge to the later write.
	if err := engA.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync(A again) error: %v", err)
	}
	got, found, err := localA.GetContact(ctx, 1)
	if err != nil || !found {
		t.Fatalf("GetContact() = found=%v err=%v", found, err)
	}
	if got.Name != "second" {
		t.Errorf("device A converged to %q, want the later write", got.Name)
	}
}

func waitForContactPush(t *testing.T, store *remote.MemoryStore, id int64) {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool {
		doc, found, err := store.Get(context.Background(), testTenant, model.Contacts, mapper.DocID(id))
		return err == nil && found && doc.Fields["name"] != nil
	}, "contact was never pushed")
}

func TestNewerLocalEditBeatsPulledDocument(t *testing.T) {
	store := remote.NewMemoryStore()
	seedRemoteContact(t, store, 1, "remote", "2026-04-01T00:00:00.000Z")

	eng, local := setupEngine(t, store, nil)
	ctx := context.Background()

	newer := model.Contact{ID: 1, Name: "local", CreatedAt: "2026-04-01T00:00:00.000Z", UpdatedAt: "2026-04-02T00:00:00.000Z"}
	if err := local.ApplyContact(ctx, &newer); err != nil {
		t.Fatalf("ApplyContact() error: %v", err)
	}
	if err := eng.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync() error: %v", err)
	}

	got, _, err := local.GetContact(ctx, 1)
	if err != nil {
		t.Fatalf("GetContact() error: %v", err)
	}
	if got.Name != "local" {
		t.Errorf("pull overwrote a strictly newer local edit: name = %q", got.Name)
	}
	if !model.IsDirty(got.UpdatedAt, got.LastSyncedAt) {
		t.Error("the newer local edit must stay dirty so it gets pushed")
	}
}

func TestPushFailureKeepsRecordDirtyAndRetries(t *testing.T) {
	store := remote.NewMemoryStore()

	var mu sync.Mutex
	fail := false
	var notices []model.Collection
	store.UpsertHook = func(col model.Collection, docID string) error {
		mu.Lock()
		defer mu.Unlock()
		if fail && col == model.Contacts {
			return errors.New("simulated network failure")
		}
		return nil
	}

	cfg := testConfig()
	cfg.OnPushError = func(col model.Collection, err error) {
		mu.Lock()
		notices = append(notices, col)
		mu.Unlock()
	}

	eng, local := setupEngine(t, store, cfg)
	ctx := context.Background()

	if err := eng.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync() error: %v", err)
	}

	mu.Lock()
	fail = true
	mu.Unlock()

	contact := &model.Contact{Name: "Ada"}
	if err := local.SaveContact(ctx, contact); err != nil {
		t.Fatalf("SaveContact() error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notices) > 0
	}, "push failure should surface through OnPushError")

	got, _, err := local.GetContact(ctx, contact.ID)
	if err != nil {
		t.Fatalf("GetContact() error: %v", err)
	}
	if !model.IsDirty(got.UpdatedAt, got.LastSyncedAt) {
		t.Fatal("failed push must leave the record dirty")
	}

	// Recovery: the next local emission retries the push.
	mu.Lock()
	fail = false
	mu.Unlock()
	if err := local.SaveContact(ctx, &got); err != nil {
		t.Fatalf("SaveContact() error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, found, err := store.Get(ctx, testTenant, model.Contacts, mapper.DocID(contact.ID))
		return err == nil && found
	}, "record should push once the failure clears")
}

func TestStopSyncSafeAndIdempotent(t *testing.T) {
	store := remote.NewMemoryStore()
	eng, _ := setupEngine(t, store, nil)

	// Never started.
	eng.StopSync()

	if err := eng.StartSync(context.Background(), testTenant); err != nil {
		t.Fatalf("StartSync() error: %v", err)
	}
	eng.StopSync()
	eng.StopSync()
}

func TestForceFullSyncPullsSettingsWithDefaults(t *testing.T) {
	store := remote.NewMemoryStore()
	ctx := context.Background()
	err := store.UpsertMerge(ctx, testTenant, settingsCollection, settingsDocID, map[string]any{"theme": "dark"})
	if err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	seedRemoteContact(t, store, 1, "Ada", model.Now())

	eng, local := setupEngine(t, store, nil)

	done := make(chan error, 1)
	eng.ForceFullSync(ctx, testTenant, func(err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ForceFullSync() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ForceFullSync() never completed")
	}

	settings, err := local.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings() error: %v", err)
	}
	if settings["theme"] != "dark" {
		t.Errorf("theme = %q, want remote value", settings["theme"])
	}
	if settings["currency"] != "USD" {
		t.Errorf("currency = %q, want default", settings["currency"])
	}
	if _, found, _ := local.GetContact(ctx, 1); !found {
		t.Error("full sync should have pulled the contact")
	}
}

func TestPushConfigWritesRemoteAndLocal(t *testing.T) {
	store := remote.NewMemoryStore()
	eng, local := setupEngine(t, store, nil)
	ctx := context.Background()

	err := eng.PushConfig(ctx, testTenant, map[string]string{"theme": "dark", "viewMode": "grid"})
	if err != nil {
		t.Fatalf("PushConfig() error: %v", err)
	}

	doc, found, err := store.Get(ctx, testTenant, settingsCollection, settingsDocID)
	if err != nil || !found {
		t.Fatalf("settings Get() = found=%v err=%v", found, err)
	}
	if doc.Fields["theme"] != "dark" {
		t.Errorf("remote theme = %v, want dark", doc.Fields["theme"])
	}

	settings, err := local.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings() error: %v", err)
	}
	if settings["viewMode"] != "grid" {
		t.Errorf("local viewMode = %q, want grid", settings["viewMode"])
	}
}

func TestDeletePersonCascade(t *testing.T) {
	store := remote.NewMemoryStore()
	ctx := context.Background()

	seedRemoteContact(t, store, 5, "Victim", model.Now())
	now := model.Now()
	docs := []struct {
		col    model.Collection
		id     string
		fields map[string]any
	}{
		{model.Tasks, "1", mapper.EncodeTask(model.Task{ID: 1, ContactID: 5, Title: "call", UpdatedAt: now})},
		{model.Tasks, "2", mapper.EncodeTask(model.Task{ID: 2, ContactID: 9, Title: "unrelated", UpdatedAt: now})},
		{model.Activities, "3", mapper.EncodeActivity(model.ActivityLogEntry{ID: 3, ContactID: 5, Summary: "met", UpdatedAt: now})},
	}
	for _, d := range docs {
		if err := store.UpsertMerge(ctx, testTenant, d.col, d.id, d.fields); err != nil {
			t.Fatalf("seed %s/%s: %v", d.col, d.id, err)
		}
	}

	eng, _ := setupEngine(t, store, nil)
	if err := eng.DeletePersonCascade(ctx, testTenant, 5); err != nil {
		t.Fatalf("DeletePersonCascade() error: %v", err)
	}

	if _, found, _ := store.Get(ctx, testTenant, model.Contacts, "5"); found {
		t.Error("contact document should be deleted")
	}
	if _, found, _ := store.Get(ctx, testTenant, model.Tasks, "1"); found {
		t.Error("dependent task should be deleted")
	}
	if _, found, _ := store.Get(ctx, testTenant, model.Tasks, "2"); !found {
		t.Error("unrelated task must survive the cascade")
	}
	if _, found, _ := store.Get(ctx, testTenant, model.Activities, "3"); found {
		t.Error("dependent activity should be deleted")
	}
}

func TestDeleteTaskAndActivityRemote(t *testing.T) {
	store := remote.NewMemoryStore()
	ctx := context.Background()
	now := model.Now()
	if err := store.UpsertMerge(ctx, testTenant, model.Tasks, "7", mapper.EncodeTask(model.Task{ID: 7, Title: "x", UpdatedAt: now})); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if err := store.UpsertMerge(ctx, testTenant, model.Activities, "8", mapper.EncodeActivity(model.ActivityLogEntry{ID: 8, Summary: "y", UpdatedAt: now})); err != nil {
		t.Fatalf("seed activity: %v", err)
	}

	eng, _ := setupEngine(t, store, nil)
	if err := eng.DeleteTaskRemote(ctx, testTenant, 7); err != nil {
		t.Fatalf("DeleteTaskRemote() error: %v", err)
	}
	if err := eng.DeleteActivityRemote(ctx, testTenant, 8); err != nil {
		t.Fatalf("DeleteActivityRemote() error: %v", err)
	}
	if _, found, _ := store.Get(ctx, testTenant, model.Tasks, "7"); found {
		t.Error("task document should be deleted")
	}
	if _, found, _ := store.Get(ctx, testTenant, model.Activities, "8"); found {
		t.Error("activity document should be deleted")
	}
}

func TestClearAllRemoteData(t *testing.T) {
	store := remote.NewMemoryStore()
	ctx := context.Background()
	now := model.Now()

	seedRemoteContact(t, store, 1, "Ada", now)
	if err := store.UpsertMerge(ctx, testTenant, model.Tasks, "1", mapper.EncodeTask(model.Task{ID: 1, Title: "t", UpdatedAt: now})); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if err := store.UpsertMerge(ctx, testTenant, model.Activities, "1", mapper.EncodeActivity(model.ActivityLogEntry{ID: 1, Summary: "a", UpdatedAt: now})); err != nil {
		t.Fatalf("seed activity: %v", err)
	}
	tax := model.TaxonomyItem{Type: model.TypeStage, LocalID: 1, Name: "Lead", UpdatedAt: now}
	if err := store.UpsertMerge(ctx, testTenant, model.Taxonomies, tax.Key(), mapper.EncodeTaxonomyItem(tax)); err != nil {
		t.Fatalf("seed taxonomy: %v", err)
	}
	if err := store.UpsertMerge(ctx, testTenant, settingsCollection, settingsDocID, map[string]any{"theme": "dark"}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	eng, _ := setupEngine(t, store, nil)
	if err := eng.ClearAllRemoteData(ctx, testTenant); err != nil {
		t.Fatalf("ClearAllRemoteData() error: %v", err)
	}

	for _, col := range model.Collections {
		docs, err := store.GetAll(ctx, testTenant, col)
		if err != nil {
			t.Fatalf("GetAll(%s) error: %v", col, err)
		}
		if len(docs) != 0 {
			t.Errorf("%s still has %d documents after wipe", col, len(docs))
		}
	}
	if _, found, _ := store.Get(ctx, testTenant, settingsCollection, settingsDocID); found {
		t.Error("settings document should be deleted")
	}
}

func TestListenerAppliesForeignRemoteWrite(t *testing.T) {
	store := remote.NewMemoryStore()
	eng, local := setupEngine(t, store, nil)
	ctx := context.Background()

	if err := eng.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync() error: %v", err)
	}

	// Another device writes a contact mid-session; its stamp is past
	// the session start, so the live listener must deliver it.
	base := store.Upserts(model.Contacts)
	time.Sleep(5 * time.Millisecond)
	seedRemoteContact(t, store, 42, "From Device B", model.Now())

	waitFor(t, 2*time.Second, func() bool {
		_, found, err := local.GetContact(ctx, 42)
		return err == nil && found
	}, "foreign remote write never landed locally")

	got, _, err := local.GetContact(ctx, 42)
	if err != nil {
		t.Fatalf("GetContact() error: %v", err)
	}
	if got.Name != "From Device B" {
		t.Errorf("Name = %q, want the foreign write", got.Name)
	}
	if got.LastSyncedAt != got.UpdatedAt {
		t.Errorf("LastSyncedAt = %q, want %q (applied writes are clean)", got.LastSyncedAt, got.UpdatedAt)
	}
	if model.IsDirty(got.UpdatedAt, got.LastSyncedAt) {
		t.Error("an applied remote write must not be dirty")
	}

	// Long enough for several debounce windows: the applied write must
	// not echo back as a push.
	time.Sleep(300 * time.Millisecond)
	if got := store.Upserts(model.Contacts); got != base+1 {
		t.Errorf("got %d upserts beyond the foreign write, want 0", got-base-1)
	}
}

func TestFullPullAppliedTwiceIsIdempotent(t *testing.T) {
	store := remote.NewMemoryStore()
	ctx := context.Background()
	now := model.Now()
	for i := int64(1); i <= 5; i++ {
		seedRemoteContact(t, store, i, fmt.Sprintf("Contact %d", i), now)
	}

	eng, local := setupEngine(t, store, nil)
	if err := eng.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync() error: %v", err)
	}
	eng.StopSync()
	first, err := local.Contacts(ctx)
	if err != nil {
		t.Fatalf("Contacts() error: %v", err)
	}

	// Clearing the watermark forces the same batch to apply again.
	if err := local.ClearWatermark(ctx); err != nil {
		t.Fatalf("ClearWatermark() error: %v", err)
	}
	if err := eng.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("second StartSync() error: %v", err)
	}
	second, err := local.Contacts(ctx)
	if err != nil {
		t.Fatalf("Contacts() error: %v", err)
	}

	if len(second) != len(first) {
		t.Fatalf("got %d contacts after re-apply, want %d", len(second), len(first))
	}
	for i := range first {
		if !reflect.DeepEqual(second[i], first[i]) {
			t.Errorf("contact %d changed on re-apply:\n got %+v\nwant %+v", first[i].ID, second[i], first[i])
		}
	}
}

func TestConcurrentStartSyncLeavesOneStoppableSession(t *testing.T) {
	store := remote.NewMemoryStore()
	eng, local := setupEngine(t, store, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eng.StartSync(ctx, testTenant); err != nil {
				t.Errorf("StartSync() error: %v", err)
			}
		}()
	}
	wg.Wait()
	eng.StopSync()

	// If any start left an orphaned session behind, its push loop
	// would still react to this write.
	if err := local.SaveContact(ctx, &model.Contact{Name: "Ada"}); err != nil {
		t.Fatalf("SaveContact() error: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := store.Upserts(model.Contacts); got != 0 {
		t.Errorf("got %d upserts after StopSync, want 0", got)
	}
}

func TestStartSyncSupersedesRunningSession(t *testing.T) {
	store := remote.NewMemoryStore()
	eng, local := setupEngine(t, store, nil)
	ctx := context.Background()

	if err := eng.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("StartSync() error: %v", err)
	}
	if err := eng.StartSync(ctx, testTenant); err != nil {
		t.Fatalf("second StartSync() error: %v", err)
	}

	// The surviving session still pushes.
	c := &model.Contact{Name: "Grace"}
	if err := local.SaveContact(ctx, c); err != nil {
		t.Fatalf("SaveContact() error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, found, err := store.Get(ctx, testTenant, model.Contacts, mapper.DocID(c.ID))
		return err == nil && found
	}, "push loops of the superseding session never ran")
}
