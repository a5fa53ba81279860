package validation

import (
	"errors"
	"strings"
	"testing"
)

// TestValidateCityName verifies trimming, length bounds, and the allowed
// character set.
func TestValidateCityName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{
			name: "simple city",
			in:   "London",
			want: "London",
		},
		{
			name: "trims whitespace",
			in:   "  Paris  ",
			want: "Paris",
		},
		{
			name: "multi word with comma",
			in:   "Washington, D.C.",
			want: "Washington, D.C.",
		},
		{
			name: "hyphen and apostrophe",
			in:   "Saint-Lô d'Ourville",
			want: "Saint-Lô d'Ourville",
		},
		{
			name: "unicode letters",
			in:   "São Paulo",
			want: "São Paulo",
		},
		{
			name:    "empty",
			in:      "",
			wantErr: ErrCityEmpty,
		},
		{
			name:    "whitespace only",
			in:      "   ",
			wantErr: ErrCityEmpty,
		},
		{
			name:    "too short",
			in:      "A",
			wantErr: ErrCityTooShort,
		},
		{
			name:    "too long",
			in:      strings.Repeat("a", 101),
			wantErr: ErrCityTooLong,
		},
		{
			name:    "angle brackets rejected",
			in:      "<script>",
			wantErr: ErrCityInvalidChars,
		},
		{
			name:    "slash rejected",
			in:      "a/b",
			wantErr: ErrCityInvalidChars,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateCityName(tc.in, 2, 100)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("ValidateCityName(%q) error = %v, want %v", tc.in, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateCityName(%q) error = %v, want nil", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ValidateCityName(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// TestValidateCityName_BoundsDisabled verifies that non-positive bounds skip
// the corresponding length check.
func TestValidateCityName_BoundsDisabled(t *testing.T) {
	if _, err := ValidateCityName("A", 0, 0); err != nil {
		t.Errorf("ValidateCityName with disabled bounds error = %v, want nil", err)
	}
}
