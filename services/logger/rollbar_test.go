package logsvc

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

func newTestLogger(t *testing.T, debug bool) (*RollbarLogger, *bytes.Buffer) {
	t.Helper()
	buf := new(bytes.Buffer)
	logger := NewRollbarLogger(buf, "TEST", &core.Config{Env: "TEST", Debug: debug})
	logger.Enable(false)
	return logger, buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		entry := make(map[string]interface{})
		require.NoError(t, dec.Decode(&entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestRollbarLogger_write(t *testing.T) {
	logger, buf := newTestLogger(t, false)
	usr := user.User{ID: "u1", OrganizationID: "o1"}

	logger.Debug("hidden")
	logger.Info("hello", map[string]interface{}{"session": "s1"})
	logger.Error("boom", errors.New("bad"), usr, 42, nil)

	entries := lines(t, buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, "hello", entries[0]["message"])
	assert.Equal(t, "TEST", entries[0]["component"])
	assert.Equal(t, "s1", entries[0]["session"])

	assert.Equal(t, "error", entries[1]["level"])
	assert.Equal(t, "bad", entries[1]["error"])
	assert.Equal(t, "u1", entries[1]["user_id"])
	assert.Equal(t, "o1", entries[1]["org_id"])
	assert.Equal(t, "42", entries[1]["extra"])
}

func TestRollbarLogger_debug(t *testing.T) {
	logger, buf := newTestLogger(t, true)

	logger.Debug("details", map[string]interface{}{"n": 3})
	out := buf.String()
	assert.Contains(t, out, "details")
	assert.Contains(t, out, "TEST")
}

func TestRollbarLogger_Fatal(t *testing.T) {
	logger, buf := newTestLogger(t, false)
	var code int
	logger.exit = func(c int) { code = c }

	logger.Fatal("dead", errors.New("no db"))
	assert.Equal(t, 1, code)

	entries := lines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "fatal", entries[0]["level"])
	assert.Equal(t, "no db", entries[0]["error"])
}

func TestNewNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.Info("nothing", errors.New("at all"))
	})
}
