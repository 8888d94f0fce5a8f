package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{text: "-5/10", want: 0, ok: true},
		{text: "0/10", want: 0, ok: true},
		{text: "5.5/10", want: 5.5, ok: true},
		{text: "10/10", want: 10, ok: true},
		{text: "15/10", want: 10, ok: true},
		{text: "solid 8 / 10 hassy", want: 8, ok: true},
		{text: "8/10!", want: 8, ok: true},
		{text: ".5/10", want: 0.5, ok: true},
		{text: "+7/10, nice", want: 7, ok: true},
		{text: "3/10 then 9/10", want: 3, ok: true},
		{text: `he said "9/10" but 4/10`, want: 4, ok: true},
		{text: `"9/10"`, ok: false},
		{text: `unpaired " 9/10`, want: 9, ok: true},
		{text: "7/100", ok: false},
		{text: "abc8/10", ok: false},
		{text: "8/10abc", ok: false},
		{text: "no rating here", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			got, ok := Extract(tt.text)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestExtractScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want int
		ok   bool
	}{
		{text: "+1", want: 1, ok: true},
		{text: "-1 lol", want: -1, ok: true},
		{text: "that's a +1!", want: 1, ok: true},
		{text: "-1 then +1", want: -1, ok: true},
		{text: "+10", ok: false},
		{text: "a+1", ok: false},
		{text: `"+1"`, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			got, ok := ExtractScore(tt.text)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()
	in := []float64{-5, 0, 5.5, 10, 15}
	want := []float64{0, 0, 5.5, 10, 10}
	for i, v := range in {
		assert.Equal(t, want[i], Clamp(v, MinRating, MaxRating))
	}
}
