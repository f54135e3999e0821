package controller

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/downfa11-org/kvs/pkg/metrics"
	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/downfa11-org/kvs/util"
)

const (
	RespOK          = "OK"
	RespKeyNotFound = "Key not found"
	RespPong        = "PONG"

	// RespValuePrefix starts every GET hit; the value follows Go-quoted so
	// no stored value can be mistaken for a status response.
	RespValuePrefix = "VALUE "
)

type CommandHandler struct {
	Store types.Store
}

func NewCommandHandler(store types.Store) *CommandHandler {
	return &CommandHandler{Store: store}
}

func (ch *CommandHandler) logCommandResult(cmd, response string) {
	status := "SUCCESS"
	if strings.HasPrefix(response, "ERROR:") {
		status = "FAILURE"
	}
	cleanResponse := strings.ReplaceAll(response, "\n", " ")
	util.Debug("status: '%s', command: '%s' to Response '%s'", status, cmd, cleanResponse)
}

// HandleCommand executes one command line and returns the response text.
func (ch *CommandHandler) HandleCommand(rawCmd string, ctx *ClientContext) string {
	start := time.Now()
	if ctx != nil {
		ctx.Commands++
	}

	req, err := ParseRequest(rawCmd)
	if err != nil {
		resp := errorResponse(err)
		metrics.ObserveCommand("invalid", "invalid", time.Since(start))
		ch.logCommandResult(rawCmd, resp)
		return resp
	}

	resp, result := ch.execute(req)
	metrics.ObserveCommand(strings.ToLower(req.Op), result, time.Since(start))
	ch.logCommandResult(rawCmd, resp)
	return resp
}

func (ch *CommandHandler) execute(req Request) (string, string) {
	switch req.Op {
	case "SET":
		if err := ch.Store.Set(req.Key, req.Value); err != nil {
			return errorResponse(err), "error"
		}
		return RespOK, "ok"

	case "GET":
		value, found, err := ch.Store.Get(req.Key)
		if err != nil {
			return errorResponse(err), "error"
		}
		if !found {
			return RespKeyNotFound, "not_found"
		}
		return FormatValue(value), "ok"

	case "RM":
		err := ch.Store.Remove(req.Key)
		if errors.Is(err, types.ErrKeyNotFound) {
			return RespKeyNotFound, "not_found"
		}
		if err != nil {
			return errorResponse(err), "error"
		}
		return RespOK, "ok"

	case "COMPACT":
		if err := ch.Store.Compact(); err != nil {
			return errorResponse(err), "error"
		}
		return RespOK, "ok"

	case "STATS":
		return formatStats(ch.Store.Stats()), "ok"

	case "PING":
		return RespPong, "ok"

	case "HELP":
		return `Available commands:
SET <key> <value> - store value under key
GET <key> - print the value of key as VALUE "<value>"
RM <key> - remove key (aliases: REMOVE, DEL)
COMPACT - rewrite the log keeping only live entries
STATS - show store statistics
PING - check the connection
HELP - show this help
Quote arguments containing spaces: SET "my key" "my value"`, "ok"
	}
	return errorResponse(fmt.Errorf("%w: %s", types.ErrInvalidCommand, req.Op)), "invalid"
}

// FormatValue renders a GET hit.
func FormatValue(value string) string {
	return RespValuePrefix + strconv.Quote(value)
}

// ParseValue extracts the value from a GET hit rendered by FormatValue.
func ParseValue(resp string) (string, bool) {
	quoted, ok := strings.CutPrefix(resp, RespValuePrefix)
	if !ok {
		return "", false
	}
	value, err := strconv.Unquote(quoted)
	if err != nil {
		return "", false
	}
	return value, true
}

func errorResponse(err error) string {
	return "ERROR: " + err.Error()
}

func formatStats(s types.Stats) string {
	return fmt.Sprintf("keys=%d segments=%d log_bytes=%d live_bytes=%d stale_ratio=%.2f compactions=%d writes=%d reads=%d",
		s.Keys, s.Segments, s.LogBytes, s.LiveBytes, s.StaleRatio(), s.Compactions, s.Writes, s.Reads)
}
