//go:build windows

package temps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenthsKelvin(t *testing.T) {
	assert.InDelta(t, 46.85, tenthsKelvin(3200), 1e-9)
	assert.InDelta(t, -273.15, tenthsKelvin(0), 1e-9)
}
