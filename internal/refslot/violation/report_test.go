package violation

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/refslot/internal/refslot/stackdepot"
)

//go:noinline
func firstRelease() uint64 {
	return stackdepot.Capture(0)
}

// TestKind_String verifies kind names.
func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{DoubleRelease, "double-release"},
		{RetainAfterFree, "retain-after-free"},
		{UseAfterFree, "use-after-free"},
		{SlotClosed, "slot-closed"},
		{Kind(0), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

// TestNew_DeduplicationKey verifies the key format.
func TestNew_DeduplicationKey(t *testing.T) {
	r := New(DoubleRelease, 0x1234, -1, 0, 0)

	assert.Equal(t, "double-release:0x1234", r.DeduplicationKey)
	assert.Equal(t, int32(-1), r.Count)
	assert.NotEmpty(t, r.Current, "current stack should be captured")
	assert.Empty(t, r.Previous)
}

// TestFormat_BothStacks verifies the report shows the earlier release site.
func TestFormat_BothStacks(t *testing.T) {
	prev := firstRelease()
	r := New(DoubleRelease, 0xc000012340, -1, prev, 0)

	out := r.String()
	t.Logf("Report:\n%s", out)

	assert.Contains(t, out, "WARNING: DOUBLE RELEASE")
	assert.Contains(t, out, "Release of 0x000000c000012340 (count -1)")
	assert.Contains(t, out, "Previous release:")
	assert.Contains(t, out, "firstRelease")
	assert.Contains(t, out, "TestFormat_BothStacks")
}

// TestFormat_NoPrevious verifies the hint when debug tracking was off.
func TestFormat_NoPrevious(t *testing.T) {
	out := New(RetainAfterFree, 0x10, 1, 0, 0).String()
	assert.Contains(t, out, "WARNING: RETAIN AFTER FREE")
	assert.Contains(t, out, "enable debug tracking")
}

// TestFormat_SlotClosed verifies closed-slot reports omit release history.
func TestFormat_SlotClosed(t *testing.T) {
	out := New(SlotClosed, 0x10, 0, 0, 0).String()
	assert.Contains(t, out, "WARNING: SLOT CLOSED")
	assert.NotContains(t, out, "Previous release")
}

// ========================================
// Handler Tests
// ========================================

// TestRaise_DefaultPanics verifies the default handler is fail-fast.
func TestRaise_DefaultPanics(t *testing.T) {
	var buf bytes.Buffer
	saved := stderr
	stderr = &buf
	defer func() { stderr = saved }()

	r := New(DoubleRelease, 0x99, -1, 0, 0)

	defer func() {
		rec := recover()
		require.NotNil(t, rec, "Raise should panic with the default handler")

		err, ok := rec.(error)
		require.True(t, ok, "panic value should be an error")

		var iv *InvariantViolation
		require.True(t, errors.As(err, &iv))
		assert.Same(t, r, iv.Report)
		assert.Contains(t, iv.Error(), "double-release of object 0x99")
		assert.True(t, strings.Contains(buf.String(), "WARNING: DOUBLE RELEASE"))
	}()

	Raise(nil, r)
}

// TestRaise_LocalBeatsGlobal verifies handler precedence.
func TestRaise_LocalBeatsGlobal(t *testing.T) {
	global := NewRecorder()
	restore := SetHandler(global.Handle)
	defer restore()

	local := NewRecorder()
	Raise(local.Handle, New(UseAfterFree, 1, 0, 0, 0))
	Raise(nil, New(UseAfterFree, 2, 0, 0, 0))

	assert.Equal(t, 1, local.Total())
	assert.Equal(t, 1, global.Total())
}

// TestRecorder_Deduplicates verifies unique reports and total counts.
func TestRecorder_Deduplicates(t *testing.T) {
	rec := NewRecorder()

	for i := 0; i < 3; i++ {
		rec.Handle(New(DoubleRelease, 0xa, -1, 0, 0))
	}
	rec.Handle(New(DoubleRelease, 0xb, -1, 0, 0))
	rec.Handle(New(SlotClosed, 0xc, 0, 0, 0))

	assert.Len(t, rec.Reports(), 3)
	assert.Equal(t, 5, rec.Total())
	assert.Equal(t, 4, rec.Count(DoubleRelease))
	assert.Equal(t, 1, rec.Count(SlotClosed))
	assert.Equal(t, 0, rec.Count(UseAfterFree))

	rec.Reset()
	assert.Zero(t, rec.Total())
	assert.Empty(t, rec.Reports())
}
