package tui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasTTY(t *testing.T) {
	assert.Contains(t, []bool{true, false}, HasTTY)
}

func TestTablePlain(t *testing.T) {
	original := HasTTY
	defer func() { HasTTY = original }()
	HasTTY = false

	var out bytes.Buffer
	Table(&out, []string{"TYPE", "VALUE"}, [][]string{{"A", "192.0.2.1"}, {"A", "192.0.2.2"}})
	assert.Equal(t, "A\t192.0.2.1\nA\t192.0.2.2\n", out.String())
}

func TestTableStyled(t *testing.T) {
	original := HasTTY
	defer func() { HasTTY = original }()
	HasTTY = true

	var out bytes.Buffer
	Table(&out, []string{"TYPE", "VALUE"}, [][]string{{"MX", "10 mail.example.com"}})
	assert.Contains(t, out.String(), "TYPE")
	assert.Contains(t, out.String(), "10 mail.example.com")
}

func TestTextStyles(t *testing.T) {
	for _, fn := range []func(string) string{Title, Muted, Warning, Error} {
		assert.Contains(t, fn("example.com"), "example.com")
	}
}
