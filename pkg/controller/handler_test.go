package controller_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/downfa11-org/kvs/pkg/controller"
	"github.com/downfa11-org/kvs/pkg/engine"
	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore returns err from every operation.
type failingStore struct {
	err error
}

func (f *failingStore) Set(key, value string) error          { return f.err }
func (f *failingStore) Get(key string) (string, bool, error) { return "", false, f.err }
func (f *failingStore) Remove(key string) error              { return f.err }
func (f *failingStore) Compact() error                       { return f.err }
func (f *failingStore) Stats() types.Stats                   { return types.Stats{} }
func (f *failingStore) Close() error                         { return nil }

func newHandler(t *testing.T) *controller.CommandHandler {
	t.Helper()
	cfg := engine.DefaultConfig(t.TempDir())
	cfg.AutoCompact = false
	e, err := engine.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return controller.NewCommandHandler(e)
}

func TestHandleCommandScenario(t *testing.T) {
	ch := newHandler(t)
	ctx := controller.NewClientContext("conn-1", "test")

	steps := []struct {
		cmd  string
		want string
	}{
		{"SET foo bar", "OK"},
		{"GET foo", `VALUE "bar"`},
		{"rm foo", "OK"},
		{"GET foo", "Key not found"},
		{"REMOVE foo", "Key not found"},
		{`set "key with spaces" "value with spaces"`, "OK"},
		{`get "key with spaces"`, `VALUE "value with spaces"`},
		{`SET empty ""`, "OK"},
		{"GET empty", `VALUE ""`},
		{`SET esc "tab\there \"quoted\""`, "OK"},
		{"GET esc", `VALUE "tab\there \"quoted\""`},
		{"DEL esc", "OK"},
		{"COMPACT", "OK"},
		{"PING", "PONG"},
	}
	for _, s := range steps {
		assert.Equal(t, s.want, ch.HandleCommand(s.cmd, ctx), s.cmd)
	}
	assert.Equal(t, len(steps), ctx.Commands)

	stats := ch.HandleCommand("STATS", nil)
	assert.Contains(t, stats, "keys=2")
	assert.Contains(t, stats, "compactions=1")

	assert.True(t, strings.HasPrefix(ch.HandleCommand("help", nil), "Available commands:"))
}

func TestHandleCommandInvalid(t *testing.T) {
	ch := newHandler(t)

	for _, cmd := range []string{
		"",
		"   ",
		"FLY away",
		"SET onlykey",
		"SET a b c",
		"GET",
		"GET a b",
		`SET "unterminated value`,
		"COMPACT now",
	} {
		resp := ch.HandleCommand(cmd, nil)
		assert.True(t, strings.HasPrefix(resp, "ERROR: invalid command"), "%q -> %q", cmd, resp)
	}
}

func TestHandleCommandStoreErrors(t *testing.T) {
	ch := controller.NewCommandHandler(&failingStore{err: types.ErrClosed})

	for _, cmd := range []string{"SET a b", "GET a", "RM a", "COMPACT"} {
		assert.Equal(t, "ERROR: store closed", ch.HandleCommand(cmd, nil), cmd)
	}

	ch = controller.NewCommandHandler(&failingStore{err: types.ErrKeyNotFound})
	assert.Equal(t, "Key not found", ch.HandleCommand("RM a", nil))

	io := types.IOError("append", "/data/segment", errors.New("no space left on device"))
	ch = controller.NewCommandHandler(&failingStore{err: io})
	assert.Contains(t, ch.HandleCommand("SET a b", nil), "no space left on device")
}

func TestParseRequest(t *testing.T) {
	req, err := controller.ParseRequest(`  set   k   "v 1"  `)
	require.NoError(t, err)
	assert.Equal(t, controller.Request{Op: "SET", Key: "k", Value: "v 1"}, req)

	req, err = controller.ParseRequest("del k")
	require.NoError(t, err)
	assert.Equal(t, "RM", req.Op)

	_, err = controller.ParseRequest("GET")
	assert.ErrorIs(t, err, types.ErrInvalidCommand)
}

func TestQuoteRoundtrip(t *testing.T) {
	for _, arg := range []string{"plain", "", "with space", `back\slash`, `"quoted"`, "new\nline"} {
		req, err := controller.ParseRequest("GET " + controller.Quote(arg))
		require.NoError(t, err, arg)
		assert.Equal(t, arg, req.Key)
	}
}

func TestHandleCommandValueLooksLikeStatus(t *testing.T) {
	ch := newHandler(t)

	for _, v := range []string{"Key not found", "ERROR: boom", "OK", `VALUE "x"`} {
		require.Equal(t, "OK", ch.HandleCommand("SET k "+controller.Quote(v), nil))
		resp := ch.HandleCommand("GET k", nil)
		got, ok := controller.ParseValue(resp)
		require.True(t, ok, resp)
		assert.Equal(t, v, got)
	}

	_, ok := controller.ParseValue(controller.RespKeyNotFound)
	assert.False(t, ok)
	_, ok = controller.ParseValue("VALUE unquoted")
	assert.False(t, ok)
}
