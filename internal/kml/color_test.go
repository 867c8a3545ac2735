package kml

import "testing"

func TestDecodeColor(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"ff0000ff", "#FF0000", true},
		{"ff00ff00", "#00FF00", true},
		{"ffff0000", "#0000FF", true},
		{"7f1a2b3c", "#3C2B1A", true},
		{" 801400ff ", "#FF0014", true},
		{"ABCDEF12", "#12EFCD", true},
		{"ff0000", "", false},
		{"ff0000ff00", "", false},
		{"gg0000ff", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := DecodeColor(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("DecodeColor(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("DecodeColor(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeColor(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"#FF5252", "ff5252ff", true},
		{"#0288D1", "ffd18802", true},
		{"7CB342", "ff42b37c", true},
		{"#FFF", "", false},
		{"#GGGGGG", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := EncodeColor(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("EncodeColor(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("EncodeColor(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeDecodeColor(t *testing.T) {
	for _, hex := range DefaultPalette {
		abgr, ok := EncodeColorAlpha(hex, 0x80)
		if !ok {
			t.Fatalf("EncodeColorAlpha(%q) failed", hex)
		}
		if abgr[:2] != "80" {
			t.Errorf("alpha of %q = %q, want 80", abgr, abgr[:2])
		}
		back, ok := DecodeColor(abgr)
		if !ok || back != hex {
			t.Errorf("DecodeColor(EncodeColor(%q)) = %q", hex, back)
		}
	}
}

func TestStyleID(t *testing.T) {
	tests := map[string]string{
		"#s1":        "s1",
		"doc.kml#s1": "s1",
		"s1":         "s1",
		"":           "",
		"#":          "",
		"a#b#c":      "b#c",
	}
	for in, want := range tests {
		if got := styleID(in); got != want {
			t.Errorf("styleID(%q) = %q, want %q", in, got, want)
		}
	}
}
