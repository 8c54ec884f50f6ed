package devconfig

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `{
    "MCC": "001",
    "MNC": "01",
    "cellLocalId": 1,
    "n2_remote_ip": "10.0.0.1",
    "gNBId:": 25,
    "txMaxPower": 20
}
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gnb_webdashboard.json")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRead_Attributes(t *testing.T) {
	doc, err := Read(writeSample(t))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	core := CoreOf(doc)
	if core.MCC != "001" || core.NgcIP != "10.0.0.1" || core.CellID != "1" {
		t.Errorf("CoreOf = %+v", core)
	}
	if core.Profile != "" {
		t.Errorf("Profile = %q, want empty", core.Profile)
	}

	radio := RadioOf(doc)
	if radio.GnbID != "25" {
		t.Errorf("GnbID = %q, want 25 from the colon-suffixed key", radio.GnbID)
	}
	if radio.TxPower != "20" {
		t.Errorf("TxPower = %q", radio.TxPower)
	}
}

func TestRead_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json"), 0644)
	if _, err := Read(path); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Read(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want ErrNotExist", err)
	}
}

func TestEnsureField(t *testing.T) {
	path := writeSample(t)

	change, err := EnsureField(path, "profile", "40MHz_MET_2x2")
	if err != nil {
		t.Fatalf("EnsureField: %v", err)
	}
	if change == nil {
		t.Fatal("expected a change when the field is absent")
	}
	if !strings.Contains(string(change.After), `"profile": "40MHz_MET_2x2"`) {
		t.Errorf("After missing field:\n%s", change.After)
	}
	if string(change.Before) != sample {
		t.Error("Before should hold the original file text")
	}

	doc, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc.String("profile") != "40MHz_MET_2x2" {
		t.Errorf("profile = %q", doc.String("profile"))
	}
	// Numbers survive the round trip unchanged.
	if doc.String("cellLocalId") != "1" {
		t.Errorf("cellLocalId = %q", doc.String("cellLocalId"))
	}

	change, err = EnsureField(path, "profile", "other")
	if err != nil {
		t.Fatalf("second EnsureField: %v", err)
	}
	if change != nil {
		t.Error("present field must not be overwritten")
	}
}

func TestSet(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		value   string
		key     string
		want    string
		wantErr error
	}{
		{name: "alias string", field: "ip_address_ngc", value: "10.9.9.9", key: "n2_remote_ip", want: `"n2_remote_ip": "10.9.9.9"`},
		{name: "numeric stays numeric", field: "tx_power", value: "23", key: "txMaxPower", want: `"txMaxPower": 23`},
		{name: "numeric field given text", field: "tx_power", value: "high", key: "txMaxPower", want: `"txMaxPower": "high"`},
		{name: "raw key", field: "MNC", value: "02", key: "MNC", want: `"MNC": "02"`},
		{name: "alias for absent key", field: "sst", value: "1", key: "sst", want: `"sst": "1"`},
		{name: "unknown", field: "bogus", value: "x", wantErr: ErrUnknownField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSample(t)
			change, err := Set(path, tt.field, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Set: %v", err)
			}
			if change.Field != tt.key {
				t.Errorf("Field = %q, want %q", change.Field, tt.key)
			}
			data, _ := os.ReadFile(path)
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("file missing %s:\n%s", tt.want, data)
			}
			bak, err := os.ReadFile(path + ".bak")
			if err != nil || string(bak) != sample {
				t.Errorf("backup not written correctly: %v", err)
			}
		})
	}
}

func TestDocument_Keys(t *testing.T) {
	doc := Document{"b": 1, "a": 2}
	keys := doc.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys = %v", keys)
	}
}
