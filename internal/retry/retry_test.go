package retry

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestExponential_Schedule(t *testing.T) {
	want := []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second, 60 * time.Second, 60 * time.Second}
	p := Exponential()
	for i, w := range want {
		d, ok := p.NextDelay(i)
		if !ok || d != w {
			t.Errorf("NextDelay(%d) = %v, %v; want %v, true", i, d, ok, w)
		}
	}
}

// Property-based test: exponential delays are bounded and non-decreasing
func TestExponential_PropertyBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("delays never exceed the cap and never shrink", prop.ForAll(
		func(attempt int) bool {
			p := Exponential()
			cur, ok := p.NextDelay(attempt)
			next, okNext := p.NextDelay(attempt + 1)
			return ok && okNext && cur <= ExponentialCap && next >= cur
		},
		gen.IntRange(0, 100000),
	))

	properties.TestingRun(t)
}

func TestPolicies(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
		wantOK  bool
	}{
		{name: "fixed within count", policy: Fixed(5*time.Second, 3), attempt: 2, want: 5 * time.Second, wantOK: true},
		{name: "fixed exhausted", policy: Fixed(5*time.Second, 3), attempt: 3, wantOK: false},
		{name: "fixed zero attempts", policy: Fixed(time.Second, 0), attempt: 0, wantOK: false},
		{name: "none", policy: None(), attempt: 0, wantOK: false},
		{name: "custom in list", policy: Custom([]time.Duration{0, time.Second}, false), attempt: 1, want: time.Second, wantOK: true},
		{name: "custom exhausted", policy: Custom([]time.Duration{0, time.Second}, false), attempt: 2, wantOK: false},
		{name: "custom repeats last", policy: Custom([]time.Duration{0, time.Second}, true), attempt: 50, want: time.Second, wantOK: true},
		{name: "custom empty repeat stops", policy: Custom(nil, true), attempt: 0, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := tt.policy.NextDelay(tt.attempt)
			if ok != tt.wantOK {
				t.Fatalf("NextDelay(%d) ok = %v, want %v", tt.attempt, ok, tt.wantOK)
			}
			if ok && d != tt.want {
				t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, d, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		spec    string
		attempt int
		want    time.Duration
		wantOK  bool
		wantErr bool
	}{
		{spec: "exponential", attempt: 1, want: 2 * time.Second, wantOK: true},
		{spec: "", attempt: 0, want: 0, wantOK: true},
		{spec: "none", attempt: 0, wantOK: false},
		{spec: "fixed:5s:10", attempt: 9, want: 5 * time.Second, wantOK: true},
		{spec: "fixed:5s:10", attempt: 10, wantOK: false},
		{spec: "custom:0s,1s,5s", attempt: 2, want: 5 * time.Second, wantOK: true},
		{spec: "custom:0s,1s,5s:repeat", attempt: 7, want: 5 * time.Second, wantOK: true},
		{spec: "fixed:5s", wantErr: true},
		{spec: "fixed:soon:3", wantErr: true},
		{spec: "custom:", wantErr: true},
		{spec: "custom:1s:forever", wantErr: true},
		{spec: "exponential:2", wantErr: true},
		{spec: "linear", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			p, err := Parse(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) error = nil", tt.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.spec, err)
			}
			d, ok := p.NextDelay(tt.attempt)
			if ok != tt.wantOK || (ok && d != tt.want) {
				t.Errorf("NextDelay(%d) = %v, %v; want %v, %v", tt.attempt, d, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestWait_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, time.Hour); err != context.Canceled {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
	if err := Wait(context.Background(), 0); err != nil {
		t.Errorf("Wait(0) error = %v", err)
	}
}
