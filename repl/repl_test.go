package repl

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"tracejit/internal/config"
)

func TestStartBuildsBalancedUnits(t *testing.T) {
	color.NoColor = true

	in := strings.NewReader(`unit 1 @ 0 {
  block entry { // entry
    %x = AddInt(1, 2)
    StLoc[loc 0](%x)
    Halt
  }
}

unit 2 @ 0 {
  block entry {
    StLoc[loc 0](%nope)
  }
}
`)
	var out bytes.Buffer
	Start(in, &out, config.Default())

	got := out.String()
	assert.Contains(t, got, "StLoc")
	assert.Contains(t, got, CONTINUE)
	assert.Contains(t, got, "E0101")
	assert.True(t, strings.HasSuffix(got, PROMPT), "loop ends at a fresh prompt")
}

func TestBraceDelta(t *testing.T) {
	assert.Equal(t, 1, braceDelta("unit 1 @ 0 {"))
	assert.Equal(t, 0, braceDelta("  block entry { Halt }"))
	assert.Equal(t, -1, braceDelta("} // }}"))
}
