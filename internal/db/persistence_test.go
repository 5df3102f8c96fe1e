package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMMRDelta(t *testing.T) {
	tests := []struct {
		name      string
		placement int
		total     int
		want      int
	}{
		{"winner of minimal match", 1, 2, 25},
		{"winner of full lobby", 1, 16, 39},
		{"top quarter", 2, 8, 15},
		{"top half", 4, 8, 5},
		{"bottom half", 5, 8, -10},
		{"last place", 16, 16, -10},
		{"loser of a duel", 2, 2, -10},
		{"fourth of sixteen", 4, 16, 15},
		{"eighth of sixteen", 8, 16, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MMRDelta(tt.placement, tt.total))
		})
	}
}
