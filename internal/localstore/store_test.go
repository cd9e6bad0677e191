package localstore

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/openfield/crmsync/internal/model"
)

// setupStore creates a schema-initialized store on a temp file.
func setupStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "crm.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := setupStore(t)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}
}

func TestSaveContact_AssignsIDAndStamps(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	c := &model.Contact{Name: "Ada Quintero", Labels: []string{"warm"}}
	if err := s.SaveContact(ctx, c); err != nil {
		t.Fatalf("SaveContact() failed: %v", err)
	}

	if c.ID == 0 {
		t.Fatal("SaveContact() did not assign an id")
	}
	if c.UpdatedAt == "" || c.CreatedAt == "" {
		t.Fatalf("SaveContact() did not stamp timestamps: %+v", c)
	}

	got, ok, err := s.GetContact(ctx, c.ID)
	if err != nil || !ok {
		t.Fatalf("GetContact() = ok=%v err=%v", ok, err)
	}
	if got.LastSyncedAt != "" {
		t.Errorf("new contact LastSyncedAt = %q, want empty (dirty)", got.LastSyncedAt)
	}
	if !reflect.DeepEqual(got.Labels, []string{"warm"}) {
		t.Errorf("Labels = %v, want [warm]", got.Labels)
	}
}

func TestSaveContact_RefreshesUpdatedAtPreservesSyncStamp(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	c := &model.Contact{Name: "Ada"}
	if err := s.SaveContact(ctx, c); err != nil {
		t.Fatalf("SaveContact() failed: %v", err)
	}
	if err := s.SetContactSynced(ctx, c.ID, c.UpdatedAt); err != nil {
		t.Fatalf("SetContactSynced() failed: %v", err)
	}

	first := c.UpdatedAt
	time.Sleep(5 * time.Millisecond) // stamps have millisecond precision

	c.Name = "Ada Q."
	if err := s.SaveContact(ctx, c); err != nil {
		t.Fatalf("second SaveContact() failed: %v", err)
	}

	got, _, err := s.GetContact(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetContact() failed: %v", err)
	}
	if got.UpdatedAt <= first {
		t.Errorf("UpdatedAt = %q, want later than %q", got.UpdatedAt, first)
	}
	if got.LastSyncedAt != first {
		t.Errorf("LastSyncedAt = %q, application write must not touch it", got.LastSyncedAt)
	}
	if !model.IsDirty(got.UpdatedAt, got.LastSyncedAt) {
		t.Error("edited contact should be dirty again")
	}
}

func TestApplyContact_Verbatim(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	in := model.Contact{
		ID:           9,
		Name:         "Remote Rita",
		CreatedAt:    "2026-01-01T00:00:00.000Z",
		UpdatedAt:    "2026-01-02T00:00:00.000Z",
		LastSyncedAt: "2026-01-02T00:00:00.000Z",
	}
	if err := s.ApplyContact(ctx, &in); err != nil {
		t.Fatalf("ApplyContact() failed: %v", err)
	}

	got, ok, err := s.GetContact(ctx, 9)
	if err != nil || !ok {
		t.Fatalf("GetContact() = ok=%v err=%v", ok, err)
	}
	if got.UpdatedAt != in.UpdatedAt || got.LastSyncedAt != in.LastSyncedAt {
		t.Errorf("sync path must not restamp: got %+v", got)
	}
	if model.IsDirty(got.UpdatedAt, got.LastSyncedAt) {
		t.Error("pulled contact must not be dirty")
	}
}

func TestTask_SaveGetDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	task := &model.Task{ContactID: 3, Title: "Send estimate", Done: true}
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask() failed: %v", err)
	}

	got, ok, err := s.GetTask(ctx, task.ID)
	if err != nil || !ok {
		t.Fatalf("GetTask() = ok=%v err=%v", ok, err)
	}
	if !got.Done || got.Title != "Send estimate" || got.ContactID != 3 {
		t.Errorf("GetTask() = %+v", got)
	}

	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}
	if _, ok, _ := s.GetTask(ctx, task.ID); ok {
		t.Error("task still present after delete")
	}
	// Deleting again is fine.
	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Errorf("second DeleteTask() failed: %v", err)
	}
}

func TestActivity_MetaRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := &model.ActivityLogEntry{
		ContactID: 3,
		Kind:      model.KindCall,
		Summary:   "quoted the job",
		Meta:      map[string]string{"durationSec": "312"},
	}
	if err := s.SaveActivity(ctx, a); err != nil {
		t.Fatalf("SaveActivity() failed: %v", err)
	}

	got, ok, err := s.GetActivity(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("GetActivity() = ok=%v err=%v", ok, err)
	}
	if got.Kind != model.KindCall {
		t.Errorf("Kind = %v, want KindCall", got.Kind)
	}
	if !reflect.DeepEqual(got.Meta, a.Meta) {
		t.Errorf("Meta = %v, want %v", got.Meta, a.Meta)
	}
}

func TestTaxonomy_SetOperations(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	items := []model.TaxonomyItem{
		{Type: model.TypeStage, LocalID: 1, Name: "Lead", Position: 0},
		{Type: model.TypeStage, LocalID: 2, Name: "Quoted", Position: 1},
		{Type: model.TypeSource, LocalID: 1, Name: "Referral", Position: 0},
	}
	for i := range items {
		if err := s.SaveTaxonomyItem(ctx, &items[i]); err != nil {
			t.Fatalf("SaveTaxonomyItem() failed: %v", err)
		}
	}

	all, err := s.TaxonomyItems(ctx)
	if err != nil {
		t.Fatalf("TaxonomyItems() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("TaxonomyItems() = %d items, want 3", len(all))
	}

	if err := s.DeleteTaxonomyItem(ctx, model.TypeStage, 2); err != nil {
		t.Fatalf("DeleteTaxonomyItem() failed: %v", err)
	}
	all, _ = s.TaxonomyItems(ctx)
	if len(all) != 2 {
		t.Fatalf("after delete: %d items, want 2", len(all))
	}

	if err := s.DeleteAllTaxonomy(ctx); err != nil {
		t.Fatalf("DeleteAllTaxonomy() failed: %v", err)
	}
	all, _ = s.TaxonomyItems(ctx)
	if len(all) != 0 {
		t.Fatalf("after clear: %d items, want 0", len(all))
	}
}

func TestWatermark_Lifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	wm, err := s.Watermark(ctx)
	if err != nil {
		t.Fatalf("Watermark() failed: %v", err)
	}
	if wm != "" {
		t.Fatalf("initial watermark = %q, want empty", wm)
	}

	stamp := model.Now()
	if err := s.SetWatermark(ctx, stamp); err != nil {
		t.Fatalf("SetWatermark() failed: %v", err)
	}
	if wm, _ = s.Watermark(ctx); wm != stamp {
		t.Errorf("Watermark() = %q, want %q", wm, stamp)
	}

	if err := s.ClearWatermark(ctx); err != nil {
		t.Fatalf("ClearWatermark() failed: %v", err)
	}
	if wm, _ = s.Watermark(ctx); wm != "" {
		t.Errorf("cleared watermark = %q, want empty", wm)
	}
}

func TestSettings_PutAndMerge(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.PutSettings(ctx, map[string]string{"theme": "dark", "currency": "USD"}); err != nil {
		t.Fatalf("PutSettings() failed: %v", err)
	}
	if err := s.PutSettings(ctx, map[string]string{"theme": "light"}); err != nil {
		t.Fatalf("second PutSettings() failed: %v", err)
	}

	got, err := s.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings() failed: %v", err)
	}
	want := map[string]string{"theme": "light", "currency": "USD"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Settings() = %v, want %v", got, want)
	}
}

func TestWatch_EmitsInitialSnapshot(t *testing.T) {
	s := setupStore(t)

	ch, cancel := s.Watch(model.Contacts)
	defer cancel()

	select {
	case <-ch:
	default:
		t.Fatal("a new watcher should start with one pending signal")
	}
}

func TestWatch_SignalsOnWrite(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	ch, cancel := s.Watch(model.Contacts)
	defer cancel()
	<-ch // initial snapshot signal

	if err := s.SaveContact(ctx, &model.Contact{Name: "Ada"}); err != nil {
		t.Fatalf("SaveContact() failed: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change notification after SaveContact")
	}
}

func TestWatch_CoalescesBursts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	ch, cancel := s.Watch(model.Tasks)
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := s.SaveTask(ctx, &model.Task{Title: "t"}); err != nil {
			t.Fatalf("SaveTask() failed: %v", err)
		}
	}

	// One pending signal at most.
	<-ch
	select {
	case <-ch:
		t.Fatal("burst produced more than one buffered notification")
	default:
	}
}

func TestWatch_CancelStopsSignals(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	ch, cancel := s.Watch(model.Contacts)
	<-ch // initial snapshot signal
	cancel()

	if err := s.SaveContact(ctx, &model.Contact{Name: "Ada"}); err != nil {
		t.Fatalf("SaveContact() failed: %v", err)
	}

	select {
	case <-ch:
		t.Fatal("cancelled watcher still received a signal")
	case <-time.After(50 * time.Millisecond):
	}
}
