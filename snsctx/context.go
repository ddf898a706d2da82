package snsctx

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
)

type ctxIndex int

const ctxIndexVerbose ctxIndex = iota

func IsVerbose(ctx context.Context) bool {
	val := ctx.Value(ctxIndexVerbose)
	if val == nil {
		return false
	}
	return val.(bool)
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// LogFrame logs raw bus traffic at debug level when ctx is verbose.
func LogFrame(ctx context.Context, msg string, address byte, data []byte) {
	if !IsVerbose(ctx) {
		return
	}
	slog.DebugContext(ctx, msg, "addr", fmt.Sprintf("%#02x", address), "data", hex.EncodeToString(data), "len", len(data))
}
