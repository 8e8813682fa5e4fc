package jsoncfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type testConfig struct {
	Name    string   `json:"name"`
	Timeout Duration `json:"timeout,omitzero"`
}

func TestDecode(t *testing.T) {
	for _, c := range []struct {
		name    string
		input   string
		want    testConfig
		wantErr bool
	}{
		{"Valid", `{"name": "route", "timeout": "1m30s"}`, testConfig{"route", Duration(90 * time.Second)}, false},
		{"NoTimeout", `{"name": "genl"}`, testConfig{Name: "genl"}, false},
		{"UnknownField", `{"name": "route", "groups": 1}`, testConfig{}, true},
		{"BadDuration", `{"timeout": "soon"}`, testConfig{}, true},
		{"TrailingData", `{"name": "a"} {"name": "b"}`, testConfig{}, true},
	} {
		t.Run(c.name, func(t *testing.T) {
			var got testConfig
			err := Decode(strings.NewReader(c.input), &got)
			if c.wantErr {
				if err == nil {
					t.Errorf("Decode() = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() = %v", err)
			}
			if got != c.want {
				t.Errorf("Decode() = %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"name": "route", "timeout": "10s"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	var got testConfig
	if err := Open(path, &got); err != nil {
		t.Fatal(err)
	}
	if want := (testConfig{"route", Duration(10 * time.Second)}); got != want {
		t.Errorf("Open() = %+v, want %+v", got, want)
	}

	if err := Open(filepath.Join(t.TempDir(), "missing.json"), &got); !os.IsNotExist(err) {
		t.Errorf("Open() with missing file = %v, want not exist", err)
	}
}

func TestDurationMarshalText(t *testing.T) {
	b, err := Duration(1500 * time.Millisecond).MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "1.5s"; got != want {
		t.Errorf("MarshalText() = %q, want %q", got, want)
	}
}
