package vdom

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/patchwire/internal/types"
)

func TestPath_Encodings(t *testing.T) {
	tests := []struct {
		path  Path
		slash string
		hex   string
	}{
		{path: Path{}, slash: "/", hex: ""},
		{path: Path{0}, slash: "/0", hex: "10000000"},
		{path: Path{0, 2}, slash: "/0/2", hex: "10000000.30000000"},
	}

	for _, tt := range tests {
		t.Run(tt.slash, func(t *testing.T) {
			if got := tt.path.String(); got != tt.slash {
				t.Errorf("String() = %q, want %q", got, tt.slash)
			}
			if got := tt.path.Hex(); got != tt.hex {
				t.Errorf("Hex() = %q, want %q", got, tt.hex)
			}
			fromSlash, err := ParsePath(tt.slash)
			if err != nil || !fromSlash.Equal(tt.path) {
				t.Errorf("ParsePath(%q) = %v, %v", tt.slash, fromSlash, err)
			}
			fromHex, err := ParseHexPath(tt.hex)
			if err != nil || !fromHex.Equal(tt.path) {
				t.Errorf("ParseHexPath(%q) = %v, %v", tt.hex, fromHex, err)
			}
		})
	}
}

func TestPath_ParseRejects(t *testing.T) {
	for _, s := range []string{"0/1", "/a", "/-1", "//"} {
		if _, err := ParsePath(s); !errors.Is(err, types.ErrInvalidPath) {
			t.Errorf("ParsePath(%q) error = %v, want ErrInvalidPath", s, err)
		}
	}
	for _, s := range []string{"18000000", "zz", "00000000"} {
		if _, err := ParseHexPath(s); !errors.Is(err, types.ErrInvalidPath) {
			t.Errorf("ParseHexPath(%q) error = %v, want ErrInvalidPath", s, err)
		}
	}
}

func TestPath_ChildDoesNotAlias(t *testing.T) {
	base := make(Path, 1, 4)
	a := base.Child(1)
	b := base.Child(2)
	if a[1] != 1 || b[1] != 2 {
		t.Errorf("Child() aliased storage: %v %v", a, b)
	}
}

// Property-based test: parents order before descendants
func TestPath_PropertyCompare(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("a path sorts before its children and equals itself", prop.ForAll(
		func(segs []int, next int) bool {
			p := Path(segs)
			child := p.Child(next)
			return p.Compare(child) < 0 && child.Compare(p) > 0 && p.Compare(p.Clone()) == 0
		},
		gen.SliceOf(gen.IntRange(0, 50)),
		gen.IntRange(0, 50),
	))

	properties.Property("slash encoding round-trips", prop.ForAll(
		func(segs []int) bool {
			p := Path(segs)
			back, err := ParsePath(p.String())
			return err == nil && back.Equal(p)
		},
		gen.SliceOfN(20, gen.IntRange(0, 999)),
	))

	properties.TestingRun(t)
}
