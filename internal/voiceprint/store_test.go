package voiceprint

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raihanakbr/consult-roles/internal/diarize"
	"github.com/sirupsen/logrus"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	path := filepath.Join(t.TempDir(), "nested", "profiles.json")
	s, err := Open(path, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func sampleProfile(owner string, created time.Time) diarize.VoiceProfile {
	return diarize.VoiceProfile{
		OwnerName:       owner,
		Fingerprint:     "abc",
		CreatedAt:       created,
		Characteristics: &diarize.Characteristics{AverageConfidence: 0.9, MedicalTermDensity: 0.1},
	}
}

func TestStore_AddGetPersist(t *testing.T) {
	s, path := openTemp(t)

	added, err := s.Add(sampleProfile("Dr. Rahman", time.Now()))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID == "" {
		t.Fatal("Add did not assign an id")
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(added.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.OwnerName != "Dr. Rahman" || got.Characteristics == nil || got.Characteristics.MedicalTermDensity != 0.1 {
		t.Errorf("round-tripped profile = %+v", got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestStore_ListOrderAndDelete(t *testing.T) {
	s, _ := openTemp(t)
	now := time.Now()

	late, _ := s.Add(sampleProfile("Late", now.Add(time.Hour)))
	early, _ := s.Add(sampleProfile("Early", now))

	list := s.List()
	if len(list) != 2 || list[0].ID != early.ID || list[1].ID != late.ID {
		t.Fatalf("List = %+v, want Early then Late", list)
	}

	if err := s.Delete(early.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}
	if _, err := s.Get(early.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get deleted = %v, want ErrNotFound", err)
	}
	if err := s.Delete(early.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, nil); err == nil {
		t.Error("expected error for corrupt profile file")
	}
}

func TestStore_UpgradesVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := os.WriteFile(path, []byte(`{"profiles":[{"id":"old","ownerName":"Dr. Old"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Get("old"); err != nil {
		t.Errorf("legacy profile missing: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if want := `"version": 1`; !strings.Contains(string(raw), want) {
		t.Errorf("file not upgraded: %s", raw)
	}
}
