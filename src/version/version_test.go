//go:build release

package version

import "testing"

// TestFlagEmpty fails if version.Flag is not empty. Release pipelines run it
// with -tags release.
func TestFlagEmpty(t *testing.T) {
	if len(Flag) > 0 {
		t.Fatalf("Version Flag is not empty: %s", Flag)
	}
}
