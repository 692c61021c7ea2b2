package main

import (
	"context"
	"time"

	"github.com/interview-voice-lab/internal/audio"
	"github.com/interview-voice-lab/internal/logging"
	"github.com/interview-voice-lab/internal/mcp"
	"github.com/interview-voice-lab/internal/session"
	"github.com/interview-voice-lab/llm"
)

const openingTimeout = 30 * time.Second

// systemInstruction builds the interviewer prompt. With a content server
// URL the first question comes from its start_interview tool; any failure
// there leaves the question to the live model.
func systemInstruction(ctx context.Context, mcpURL, topic string, level llm.ExpertiseLevel) string {
	if mcpURL == "" {
		return llm.InterviewInstruction(topic, level)
	}
	ctx, cancel := context.WithTimeout(ctx, openingTimeout)
	defer cancel()
	q, err := mcp.OpeningQuestion(ctx, mcpURL, topic, level)
	if err != nil {
		logging.Warnw("opening question unavailable, live model picks it", "url", mcpURL, "error", err)
		return llm.InterviewInstruction(topic, level)
	}
	logging.Infow("opening question prepared", "question", q)
	return llm.OpeningInstruction(topic, level, q)
}

type decodeErrorCounter interface {
	DecodeErrors() int64
}

// finishFields describes a finished interview. Microphones that decode a
// compressed stream add their own decode failures.
func finishFields(stats session.Stats, mic audio.Microphone) []interface{} {
	kv := []interface{}{
		"frames_sent", stats.Sent,
		"frames_dropped", stats.Dropped,
		"decode_errors", stats.DecodeErrors,
	}
	if c, ok := mic.(decodeErrorCounter); ok {
		kv = append(kv, "mic_decode_errors", c.DecodeErrors())
	}
	return kv
}
