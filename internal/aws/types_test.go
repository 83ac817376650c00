package aws

import "testing"

func TestExcludeConfig_ShouldExclude(t *testing.T) {
	e := ExcludeConfig{
		ResourceIDs: map[string]bool{"i-skip": true},
		Tags:        map[string]string{"awsscreener": "ignore", "Keep": ""},
	}

	tests := []struct {
		name string
		id   string
		tags map[string]string
		want bool
	}{
		{"by id", "i-skip", nil, true},
		{"tag value match", "i-1", map[string]string{"awsscreener": "ignore"}, true},
		{"tag value mismatch", "i-1", map[string]string{"awsscreener": "scan"}, false},
		{"key only rule", "i-1", map[string]string{"Keep": "anything"}, true},
		{"no match", "i-1", map[string]string{"Env": "prod"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.ShouldExclude(tt.id, tt.tags); got != tt.want {
				t.Fatalf("ShouldExclude(%q, %v) = %v, want %v", tt.id, tt.tags, got, tt.want)
			}
		})
	}
}

func TestExcludeConfig_ZeroValue(t *testing.T) {
	var e ExcludeConfig
	if e.ShouldExclude("i-123", map[string]string{"Env": "prod"}) {
		t.Fatal("zero-value config should exclude nothing")
	}
}

func TestCostValue(t *testing.T) {
	v := costValue(12.5, map[string]any{"sizeGiB": 100})
	if v["monthlyCost"] != 12.5 || v["sizeGiB"] != 100 {
		t.Fatalf("unexpected value: %v", v)
	}
}
