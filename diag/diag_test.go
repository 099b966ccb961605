package diag_test

import (
	"bytes"
	"testing"

	"github.com/sparsevcs/mirror/diag"
	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := diag.New(&buf, diag.LevelWarn)

	l.Debugf("should not appear %d", 1)
	l.Infof("should not appear %d", 2)
	l.Warnf("pattern %q matched nothing", "foo/*")
	l.Errorf("boom")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, `pattern "foo/*" matched nothing`)
	assert.Contains(t, out, "boom")
}

func TestNilLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l *diag.Logger
	assert.NotPanics(t, func() { l.Warnf("anything") })
}
