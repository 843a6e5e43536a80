package knowledge

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseJSONKeepsRecordsVerbatim(t *testing.T) {
	b, err := ParseJSON([]byte(`[
		{"name": "Library", "building": "B2", "floor": 1},
		{"name": "Cafeteria"}
	]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if b.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", b.Len())
	}
	want := `[{"name":"Library","building":"B2","floor":1},{"name":"Cafeteria"}]`
	if string(b.JSON()) != want {
		t.Fatalf("expected %s, got %s", want, b.JSON())
	}
}

func TestParseJSONRejectsObject(t *testing.T) {
	if _, err := ParseJSON([]byte(`{"name":"Library"}`)); !errors.Is(err, ErrNotAList) {
		t.Fatalf("expected ErrNotAList, got %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campus.yaml")
	data := "- name: Library\n  building: B2\n- name: Gym\n  1: ground\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", b.Len())
	}
	if !strings.Contains(string(b.JSON()), `"name":"Library"`) || !strings.Contains(string(b.JSON()), `"1":"ground"`) {
		t.Fatalf("unexpected json: %s", b.JSON())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
