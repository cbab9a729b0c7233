package stt

import (
	"strings"

	"github.com/glyphgate/voicegate/pkg/gwerr"
)

// Normalize applies the STT normalization law shared by every adapter: if
// the backend returned segmented output, join the segment texts with a
// single space; otherwise fall back to the backend's top-level text. If
// both are empty, the backend produced no usable transcript and Normalize
// returns STT_TRANSCRIPTION_FAILED (user kind, empty-text flavor).
//
// This is the law verified by the shared contract test asserting identical
// behavior across whisperx, openai, and custom adapters.
func Normalize(segments []string, topLevelText string) (string, error) {
	if len(segments) > 0 {
		nonEmpty := make([]string, 0, len(segments))
		for _, s := range segments {
			if strings.TrimSpace(s) != "" {
				nonEmpty = append(nonEmpty, strings.TrimSpace(s))
			}
		}
		if len(nonEmpty) > 0 {
			return strings.Join(nonEmpty, " "), nil
		}
	}
	if strings.TrimSpace(topLevelText) != "" {
		return strings.TrimSpace(topLevelText), nil
	}
	return "", gwerr.NewWithKind(gwerr.User, gwerr.CodeSTTTranscriptionFailed, "backend returned no transcript text")
}
