package accesslog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allensuvorov/logamizer/internal/model"
)

const sampleLine = `203.0.113.7 - alice [10/Oct/2023:13:55:36 -0700] "GET /index.html HTTP/1.1" 200 2326 "https://example.com/" "Mozilla/5.0"`

func TestParseLineCombined(t *testing.T) {
	ev, err := NginxCombined.ParseLine(1, sampleLine)
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.7", ev.IP)
	require.NotNil(t, ev.User)
	assert.Equal(t, "alice", *ev.User)
	assert.Equal(t, "GET", ev.Method)
	assert.Equal(t, "/index.html", ev.Path)
	assert.Equal(t, "HTTP/1.1", ev.Protocol)
	assert.Equal(t, 200, ev.Status)
	assert.EqualValues(t, 2326, ev.BytesSent)
	require.NotNil(t, ev.Referer)
	assert.Equal(t, "https://example.com/", *ev.Referer)
	require.NotNil(t, ev.UserAgent)
	assert.Equal(t, "Mozilla/5.0", *ev.UserAgent)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.Equal(t, 20, ev.Timestamp.Hour())
}

func TestParseLineDashFieldsBecomeNil(t *testing.T) {
	line := `10.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 404 -`
	ev, err := NginxCombined.ParseLine(1, line)
	require.NoError(t, err)
	assert.Nil(t, ev.User)
	assert.Nil(t, ev.Referer)
	assert.Nil(t, ev.UserAgent)
	assert.EqualValues(t, 0, ev.BytesSent)
	assert.Equal(t, 404, ev.Status)
}

func TestParseLineNoMatchFails(t *testing.T) {
	_, err := NginxCombined.ParseLine(1, "not a log line")
	assert.Error(t, err)
}

func TestParseAutoTriesEachRecognizer(t *testing.T) {
	ev, err := ParseAuto(1, sampleLine)
	require.NoError(t, err)
	assert.Equal(t, "/index.html", ev.Path)
}

func TestForFormatSelectsRecognizer(t *testing.T) {
	assert.NotNil(t, ForFormat(model.FormatNginxCombined))
	assert.NotNil(t, ForFormat(model.FormatApacheCombined))
	assert.NotNil(t, ForFormat(model.FormatAuto))
}

// TestSerializeRoundTrip exercises the parse/serialize round trip property
// used elsewhere to validate that a re-rendered event reparses identically.
func TestSerializeRoundTrip(t *testing.T) {
	ev, err := NginxCombined.ParseLine(1, sampleLine)
	require.NoError(t, err)

	reserialized := Serialize(ev)
	again, err := NginxCombined.ParseLine(1, reserialized)
	require.NoError(t, err)

	assert.Equal(t, ev.IP, again.IP)
	assert.Equal(t, ev.Method, again.Method)
	assert.Equal(t, ev.Path, again.Path)
	assert.Equal(t, ev.Status, again.Status)
	assert.Equal(t, ev.BytesSent, again.BytesSent)
	assert.True(t, ev.Timestamp.Equal(again.Timestamp))
}
