package regions

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{input: "United States", expected: "US"},
		{input: "united  states", expected: "US"},
		{input: "Brazil", expected: "BR"},
		{input: "  Chile ", expected: "CL"},
		{input: "US", expected: "US"},
		{input: "us", expected: "US"},
		// two-letter codes pass through even when not in the name table
		{input: "de", expected: "DE"},
	}
	for _, test := range testCases {
		code, err := Code(test.input)
		require.NoError(t, err, test.input)
		require.Equal(t, test.expected, code, test.input)
	}
}

func TestCodeRejectsUnknownNames(t *testing.T) {
	_, err := Code("")
	require.Error(t, err)

	_, err = Code("Atlantis General Confederacy")
	require.Error(t, err)

	_, err = Code("Unted States")
	require.Error(t, err)
	require.Contains(t, err.Error(), "United States")
}

func TestNames(t *testing.T) {
	require.Equal(
		t,
		[]string{"Argentina", "Brazil", "Chile", "Mexico", "United States"},
		Names(),
	)
}
