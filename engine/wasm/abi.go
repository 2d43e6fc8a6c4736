// Package wasm executes compiled WebAssembly plugin modules with
// wazero.
//
// Plugins follow a packed pointer ABI: every guest export takes one
// uint64 packing a pointer and a length to JSON input in linear memory
// and returns a uint64 packing the JSON result the same way. Guests
// export "allocate" so the host can place input bytes, "get_info",
// "initialize", "cleanup", and one export per declared capability
// operation.
package wasm

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tetratelabs/wazero/api"
)

// HostModule is the import module name under which host functions are
// exposed to guests.
const HostModule = "pluginhost"

// Guest export names shared by every plugin module.
const (
	exportAllocate   = "allocate"
	exportInfo       = "get_info"
	exportInitialize = "initialize"
	exportCleanup    = "cleanup"
	exportStart      = "_initialize"
)

// PackPtrLen packs a guest pointer and length into one uint64.
func PackPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackPtrLen splits a packed uint64 into pointer and length.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}

// guestLogMessage is the payload guests pass to the log_message host
// function.
type guestLogMessage struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// lifecycleResult is the JSON shape initialize and cleanup return.
type lifecycleResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// logMessageFunc builds the log_message host function, bridging guest
// log lines onto the host logger.
func logMessageFunc(logger *slog.Logger, pluginID string) api.GoModuleFunc {
	return func(ctx context.Context, m api.Module, stack []uint64) {
		ptr, length := UnpackPtrLen(stack[0])
		payload, ok := m.Memory().Read(ptr, length)
		if !ok {
			logger.Error("failed to read guest log message",
				"plugin", pluginID, "ptr", ptr, "len", length)
			return
		}

		var msg guestLogMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.Error("failed to decode guest log message",
				"plugin", pluginID, "error", err)
			return
		}

		level := slog.LevelInfo
		if err := level.UnmarshalText([]byte(msg.Level)); err != nil {
			logger.Warn("unknown guest log level", "plugin", pluginID, "level", msg.Level)
		}

		attrs := make([]slog.Attr, 0, len(msg.Attrs)+1)
		attrs = append(attrs, slog.String("plugin", pluginID))
		for k, v := range msg.Attrs {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, msg.Message, attrs...)
	}
}
