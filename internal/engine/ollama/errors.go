package ollama

import "errors"

var (
	ErrUnreachable       = errors.New("ollama unreachable")
	ErrModelNotFound     = errors.New("model not found on ollama server")
	ErrNoVision          = errors.New("model does not support image input")
	ErrDeviceUnavailable = errors.New("requested device unavailable")
	ErrEmptyResponse     = errors.New("ollama returned an empty response")
)
