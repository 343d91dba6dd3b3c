package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressRegistry(t *testing.T) {
	r := NewAddressRegistry()

	var notified []string
	r.Subscribe(func(address string) { notified = append(notified, address) })

	assert.True(t, r.Watch(strings.ToUpper(testBuyer[:2])+testBuyer[2:]))
	assert.False(t, r.Watch(testBuyer))
	assert.False(t, r.Watch("  "))
	assert.True(t, r.Watch(testResaler))

	assert.True(t, r.Contains(" "+testBuyer))
	assert.False(t, r.Contains(testPlatform))
	assert.Equal(t, []string{testBuyer, testResaler}, r.Addresses())
	assert.Equal(t, []string{testBuyer, testResaler}, notified)
	assert.Equal(t, 2, r.Len())
}
