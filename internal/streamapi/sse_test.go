package streamapi

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEWriter_Format(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)
	w.Init()
	require.NoError(t, w.WriteEvent(progressAt(7)))
	require.NoError(t, w.Comment("keep-alive"))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "id: 7\nevent: progress\ndata: {"), body)
	assert.True(t, strings.HasSuffix(body, "\n\n: keep-alive\n\n"), body)
}

func TestReadFrames(t *testing.T) {
	input := strings.Join([]string{
		": comment",
		"id: 1",
		"event: progress",
		"data: {\"a\":1}",
		"",
		"id:2",
		"data: line one",
		"data: line two",
		"retry: 100",
		"",
		"",
		"event: tail",
		"data: no blank line",
	}, "\n")

	var frames []Frame
	require.NoError(t, ReadFrames(strings.NewReader(input), func(f Frame) error {
		frames = append(frames, f)
		return nil
	}))

	require.Len(t, frames, 3)
	assert.Equal(t, Frame{ID: "1", Event: "progress", Data: `{"a":1}`}, frames[0])
	assert.Equal(t, uint64(1), frames[0].Seq())
	assert.Equal(t, Frame{ID: "2", Data: "line one\nline two"}, frames[1])
	assert.Equal(t, Frame{Event: "tail", Data: "no blank line"}, frames[2])
	assert.Zero(t, frames[2].Seq())
}

func TestReadFrames_StopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ReadFrames(strings.NewReader("data: a\n\ndata: b\n\n"), func(Frame) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
