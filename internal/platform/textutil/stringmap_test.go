package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompactMap(t *testing.T) {
	got := CompactMap(map[string]string{
		" orderId ": " ord_1 ",
		"status":    "PROCESSING",
		"reason":    "  ",
		" ":         "dropped",
	})
	assert.Equal(t, map[string]string{"orderId": "ord_1", "status": "PROCESSING"}, got)

	assert.Nil(t, CompactMap(nil))
	assert.Nil(t, CompactMap(map[string]string{"status": ""}))
}
