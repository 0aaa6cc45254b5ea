package storage

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestCreateAndGetDataset(t *testing.T) {
	s := openTestStore(t)

	d := Dataset{
		ID:          "ds1",
		WorkspaceID: "ws1",
		Filename:    "shop.yml",
		Format:      "structured-yaml",
		Content:     []byte("nlu: []"),
		CreatedAt:   t0,
	}
	if err := s.CreateDataset(d); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	got, err := s.GetDataset("ds1")
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if got.Status != DatasetUploaded {
		t.Errorf("Status = %q, want uploaded", got.Status)
	}
	if string(got.Content) != "nlu: []" {
		t.Errorf("Content = %q", got.Content)
	}
	if len(got.Intents) != 0 || got.Intents == nil {
		t.Errorf("Intents = %#v, want empty non-nil slice", got.Intents)
	}
	if !got.CreatedAt.Equal(t0) || !got.UpdatedAt.Equal(t0) {
		t.Errorf("timestamps = %v / %v, want %v", got.CreatedAt, got.UpdatedAt, t0)
	}
}

func TestGetDatasetNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetDataset("nope"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveValidation(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateDataset(Dataset{ID: "ds1", WorkspaceID: "ws1", Filename: "a.csv", Format: "csv"}); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	v := Validation{Status: DatasetValidated, Intents: []string{"greet"}, SampleCount: 1}
	if err := s.SaveValidation("ds1", v, t0); !errors.Is(err, ErrConflict) {
		t.Fatalf("saving before parsing: err = %v, want ErrConflict", err)
	}

	if err := s.StartParsing("ds1", t0); err != nil {
		t.Fatalf("StartParsing: %v", err)
	}
	v.Entities = []string{"product"}
	v.Warnings = []string{"row 3: missing intent, dropped"}
	v.CorpusJSON = `{"examples":[]}`
	later := t0.Add(time.Second)
	if err := s.SaveValidation("ds1", v, later); err != nil {
		t.Fatalf("SaveValidation: %v", err)
	}

	got, err := s.GetDataset("ds1")
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if got.Status != DatasetValidated || got.SampleCount != 1 {
		t.Errorf("dataset = %+v", got)
	}
	if !reflect.DeepEqual(got.Entities, []string{"product"}) {
		t.Errorf("Entities = %v", got.Entities)
	}
	if !reflect.DeepEqual(got.Warnings, v.Warnings) {
		t.Errorf("Warnings = %v", got.Warnings)
	}
	if len(got.ValidationReport) != 0 {
		t.Errorf("ValidationReport = %v, want empty", got.ValidationReport)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}
}

func TestSaveValidation_Invariants(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateDataset(Dataset{ID: "ds1", WorkspaceID: "ws1", Filename: "a.csv", Format: "csv", Status: DatasetParsing}); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	bad := []Validation{
		{Status: DatasetValidated, SampleCount: 0},
		{Status: DatasetValidated, SampleCount: 3, Report: []string{"oops"}},
		{Status: DatasetError},
		{Status: DatasetTrained, SampleCount: 1},
	}
	for _, v := range bad {
		if err := s.SaveValidation("ds1", v, t0); err == nil {
			t.Errorf("SaveValidation(%+v) succeeded, want error", v)
		}
	}

	if err := s.SaveValidation("ds1", Validation{Status: DatasetError, Report: []string{"CSV file is empty"}}, t0); err != nil {
		t.Fatalf("SaveValidation(error): %v", err)
	}
	got, err := s.GetDataset("ds1")
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if got.Status != DatasetError || len(got.ValidationReport) != 1 {
		t.Errorf("dataset = %+v", got)
	}
}

func TestStartParsing_BlockedByActiveJob(t *testing.T) {
	s := openTestStore(t)
	createValidatedDataset(t, s, "ds1")
	beginJob(t, s, "tj1", "ds1")

	if err := s.StartParsing("ds1", t0); !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if err := s.StartParsing("missing", t0); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListDatasets_WorkspaceIsolation(t *testing.T) {
	s := openTestStore(t)

	for i, d := range []Dataset{
		{ID: "a", WorkspaceID: "ws1", Filename: "a.csv", Format: "csv"},
		{ID: "b", WorkspaceID: "ws2", Filename: "b.csv", Format: "csv"},
		{ID: "c", WorkspaceID: "ws1", Filename: "c.csv", Format: "csv"},
	} {
		d.CreatedAt = t0.Add(time.Duration(i) * time.Minute)
		if err := s.CreateDataset(d); err != nil {
			t.Fatalf("CreateDataset(%s): %v", d.ID, err)
		}
	}

	got, err := s.ListDatasets("ws1")
	if err != nil {
		t.Fatalf("ListDatasets: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d datasets, want 2", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "a" {
		t.Errorf("order = [%s %s], want [c a]", got[0].ID, got[1].ID)
	}
}
