package errorlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseApacheErrorLine(t *testing.T) {
	line := `[Wed Oct 11 14:32:52.123456 2023] [core:error] [pid 12345] [client 10.0.0.5:51423] File does not exist: /var/www/html/favicon.ico`
	oc, err := Parse(1, line)
	require.NoError(t, err)
	assert.Equal(t, "core:error", oc.ErrorType)
	assert.Equal(t, "10.0.0.5", oc.IP)
	assert.Contains(t, oc.Message, "File does not exist")
	assert.Equal(t, 2023, oc.Timestamp.Year())
}

func TestParseApacheErrorLineDoubleSpaceDay(t *testing.T) {
	line := `[Wed Oct  1 14:32:52 2023] [core:error] [pid 12345] message here`
	oc, err := Parse(1, line)
	require.NoError(t, err)
	assert.Equal(t, 1, oc.Timestamp.Day())
}

func TestParseModSecurityFields(t *testing.T) {
	line := `[Wed Oct 11 14:32:52 2023] [security2:error] [pid 999] [client 10.0.0.5] ModSecurity: Warning. Pattern match "..." [id "920100"] [msg "Invalid request"] [uri "/admin"] [client "10.0.0.5"]`
	oc, err := Parse(1, line)
	require.NoError(t, err)
	assert.Equal(t, "modsecurity", oc.ErrorType)
	assert.Equal(t, "Invalid request", oc.Message)
	assert.Equal(t, "/admin", oc.RequestURL)
	assert.Equal(t, "10.0.0.5", oc.IP)
	require.NotNil(t, oc.Context)
	assert.Equal(t, "920100", oc.Context["id"])
}

func TestParseNginxErrorLine(t *testing.T) {
	line := `2023/10/11 14:32:52 [error] 1234#0: *567 connect() failed (111: Connection refused) while connecting to upstream, client: 10.0.0.9, server: example.com`
	oc, err := Parse(1, line)
	require.NoError(t, err)
	assert.Equal(t, "nginx:error", oc.ErrorType)
	assert.Equal(t, "10.0.0.9", oc.IP)
	assert.Equal(t, 2023, oc.Timestamp.Year())
}

func TestParseUnrecognizedLineFails(t *testing.T) {
	_, err := Parse(1, "totally unstructured text")
	assert.Error(t, err)
}
