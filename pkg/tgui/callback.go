package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "prefix:payload".
func Data(prefix, payload string) string {
	prefix = strings.TrimSpace(prefix)
	if payload == "" {
		return prefix
	}
	return prefix + ":" + payload
}

// SplitData is the inverse of Data.
func SplitData(data string) (prefix, payload string) {
	prefix, payload, _ = strings.Cut(data, ":")
	return prefix, payload
}

// CheckData reports whether data fits in callback_data.
func CheckData(data string) error {
	if len(data) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}
