package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel("info")
	})
	return &buf
}

func TestBracketTagBecomesComponent(t *testing.T) {
	buf := capture(t)
	Infof("[exec] queued %s", "o1")
	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, `msg="queued o1"`)
	assert.Contains(t, out, "component=exec")
}

func TestUntaggedMessagesPassThrough(t *testing.T) {
	buf := capture(t)
	Warnf("[not a tag] kept")
	Errorf("plain %d", 1)
	out := buf.String()
	assert.Contains(t, out, `msg="[not a tag] kept"`)
	assert.Contains(t, out, `msg="plain 1"`)
	assert.NotContains(t, out, "component=")
}

func TestSetLevelFilters(t *testing.T) {
	buf := capture(t)
	Debugf("[pipeline] hidden")
	assert.Empty(t, buf.String())

	SetLevel("debug")
	Debugf("[pipeline] shown")
	assert.Contains(t, buf.String(), "component=pipeline")

	SetLevel("error")
	Warnf("[exec] dropped")
	assert.NotContains(t, buf.String(), "dropped")
}

func TestInfoBlockLogsEachLine(t *testing.T) {
	buf := capture(t)
	InfoBlock("\n[summary] a\n[summary] b\n")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("component=summary")))
}
