package region

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBengaluruDefaults(t *testing.T) {
	r := Bengaluru()

	if r.Name != "Bengaluru" {
		t.Errorf("Expected name 'Bengaluru', got '%s'", r.Name)
	}
	if r.CountryCode != "in" {
		t.Errorf("Expected country code 'in', got '%s'", r.CountryCode)
	}
	if !r.Box.Contains(12.97, 77.59) {
		t.Error("City center should be inside the bounding box")
	}
	if r.Box.Contains(28.61, 77.21) {
		t.Error("Delhi should be outside the bounding box")
	}
	if r.Box.Contains(0, 0) {
		t.Error("Null island should be outside the bounding box")
	}
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	r, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if r.Name != "Bengaluru" {
		t.Errorf("Expected default region, got '%s'", r.Name)
	}
}

func TestLoadValidFile(t *testing.T) {
	tempDir := t.TempDir()

	content := `
name: "Mysuru"
variants:
  - "mysuru"
  - "mysore"
qualifier: ", Mysuru, Karnataka, India"
country_code: "in"
bounding_box:
  min_lat: 12.2
  max_lat: 12.4
  min_lon: 76.5
  max_lon: 76.8
`
	path := filepath.Join(tempDir, "region.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if r.Name != "Mysuru" {
		t.Errorf("Expected name 'Mysuru', got '%s'", r.Name)
	}
	if len(r.Variants) != 2 {
		t.Errorf("Expected 2 variants, got %d", len(r.Variants))
	}
	if !r.Box.Contains(12.3, 76.65) {
		t.Error("Expected point inside loaded bounding box")
	}
}

func TestLoadInvalidFile(t *testing.T) {
	tempDir := t.TempDir()

	// Missing variants and country code
	content := `
name: "Nowhere"
bounding_box:
  min_lat: 1
  max_lat: 2
  min_lon: 1
  max_lon: 2
`
	path := filepath.Join(tempDir, "region.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected validation error for incomplete region")
	}
}

func TestMentionsRegion(t *testing.T) {
	r := Bengaluru()

	tests := []struct {
		place    string
		expected bool
	}{
		{"MG Road, Bengaluru", true},
		{"Indiranagar, Bangalore", true},
		{"BLR Airport", true},
		{"MG Road", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := r.MentionsRegion(tt.place); got != tt.expected {
			t.Errorf("MentionsRegion(%q) = %v, expected %v", tt.place, got, tt.expected)
		}
	}
}
