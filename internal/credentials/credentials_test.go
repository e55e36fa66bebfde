package credentials

import (
	"context"
	"os"
	"testing"

	"github.com/shehryarbajwa/flowreel/internal/page/pagetest"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

func TestParse_Normalizes(t *testing.T) {
	data := []byte(`[
		{"name": "SID", "value": "a", "domain": ".google.com", "expirationDate": 1999999999.5, "secure": true, "sameSite": "no_restriction"},
		{"name": "NID", "value": "b", "domain": ".google.com", "sameSite": "None"},
		{"name": "pref", "value": "c", "domain": "labs.google", "path": "/fx", "expiry": 1800000000, "sameSite": "unspecified"},
		{"name": "tmp", "value": "d", "domain": "labs.google", "session": true, "expires": 1800000000, "sameSite": "strict"},
		{"name": "", "value": "x", "domain": "labs.google"}
	]`)

	cookies, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cookies) != 4 {
		t.Fatalf("expected 4 cookies, got %d", len(cookies))
	}

	tests := []struct {
		name     string
		sameSite string
		path     string
		expires  bool
	}{
		{"SID", models.SameSiteNone, "/", true},
		{"NID", models.SameSiteLax, "/", false},
		{"pref", models.SameSiteLax, "/fx", true},
		{"tmp", models.SameSiteStrict, "/", false},
	}
	for i, tt := range tests {
		c := cookies[i]
		if c.Name != tt.name {
			t.Fatalf("cookie %d: expected %s, got %s", i, tt.name, c.Name)
		}
		if c.SameSite != tt.sameSite {
			t.Errorf("%s: sameSite %q, want %q", c.Name, c.SameSite, tt.sameSite)
		}
		if c.Path != tt.path {
			t.Errorf("%s: path %q, want %q", c.Name, c.Path, tt.path)
		}
		if (c.Expires != nil) != tt.expires {
			t.Errorf("%s: expires set=%v, want %v", c.Name, c.Expires != nil, tt.expires)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse([]byte(`{not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := Parse([]byte(`[]`)); err == nil {
		t.Error("expected error for empty bundle")
	}
}

func TestManager_ExportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	fake := pagetest.New()
	fake.Jar = []models.Cookie{{Name: "SID", Value: "v", Domain: ".google.com", Path: "/", Secure: true, SameSite: models.SameSiteNone}}

	snap, err := m.Export(context.Background(), fake, "batch-1")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if snap.Count != 1 || snap.BatchID != "batch-1" {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	loaded, err := Load(snap.Path)
	if err != nil {
		t.Fatalf("Load exported bundle: %v", err)
	}
	if loaded[0].Name != "SID" || loaded[0].SameSite != models.SameSiteNone {
		t.Errorf("unexpected reloaded cookie %+v", loaded[0])
	}

	if err := m.Delete(snap.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(snap.Path); !os.IsNotExist(err) {
		t.Errorf("expected bundle file removed, stat err=%v", err)
	}
	if _, err := m.Get(snap.ID); err == nil {
		t.Error("expected snapshot to be gone")
	}
}
