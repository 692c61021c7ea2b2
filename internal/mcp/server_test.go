package mcp

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interview-voice-lab/internal/audio"
	"github.com/interview-voice-lab/llm"
)

type fakeGenerator struct {
	mu     sync.Mutex
	levels []llm.ExpertiseLevel
	err    error
	wav    []byte
}

func (g *fakeGenerator) record(level llm.ExpertiseLevel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels = append(g.levels, level)
}

func (g *fakeGenerator) lastLevel() llm.ExpertiseLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.levels) == 0 {
		return ""
	}
	return g.levels[len(g.levels)-1]
}

func (g *fakeGenerator) GenerateLesson(_ context.Context, topic string, level llm.ExpertiseLevel) (*llm.Lesson, error) {
	g.record(level)
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Lesson{Topic: topic, ExpertiseLevel: level, Summary: "about " + topic}, nil
}

func (g *fakeGenerator) GenerateComparison(_ context.Context, a, b string, level llm.ExpertiseLevel) (*llm.Comparison, error) {
	g.record(level)
	return &llm.Comparison{TopicA: a, TopicB: b, Verdict: "it depends"}, g.err
}

func (g *fakeGenerator) GenerateTrendingTopics(context.Context, string) []string {
	return []string{"AUTOSAR", "CAN Bus Security"}
}

func (g *fakeGenerator) GenerateInterviewPrep(_ context.Context, topic string, level llm.ExpertiseLevel) (*llm.InterviewPrep, error) {
	g.record(level)
	return &llm.InterviewPrep{Topic: topic}, g.err
}

func (g *fakeGenerator) FollowUpAnswer(_ context.Context, _ string, history []llm.Turn, question string, _ llm.ExpertiseLevel) string {
	return question + " answered after " + strconv.Itoa(len(history)) + " turns"
}

func (g *fakeGenerator) ExecuteCode(_ context.Context, code, _ string) string {
	return "ran " + code
}

func (g *fakeGenerator) StartInterview(_ context.Context, topic string, level llm.ExpertiseLevel) (string, error) {
	g.record(level)
	if g.err != nil {
		return "", g.err
	}
	return "Explain " + topic, nil
}

func (g *fakeGenerator) EvaluateAnswer(context.Context, string, string, string) (*llm.Evaluation, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Evaluation{Feedback: llm.Feedback{Rating: 8}, NextQuestion: "next?"}, nil
}

func (g *fakeGenerator) SynthesizeSpeech(context.Context, string) ([]byte, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.wav, nil
}

func connect(t *testing.T, gen Generator, opts ServerOptions) *sdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	server := NewServer(gen, opts)
	ct, st := sdk.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })
	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *sdk.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &sdk.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*sdk.TextContent)
	require.True(t, ok, "want text content, got %T", res.Content[0])
	return tc.Text, res.IsError
}

func TestListTools(t *testing.T) {
	cs := connect(t, &fakeGenerator{}, ServerOptions{})
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"compare_topics", "evaluate_answer", "execute_code", "follow_up", "generate_lesson",
		"interview_prep", "start_interview", "synthesize_speech", "trending_topics",
	}, names)
}

func TestGenerateLessonTool(t *testing.T) {
	gen := &fakeGenerator{}
	cs := connect(t, gen, ServerOptions{})

	text, isErr := call(t, cs, "generate_lesson", map[string]any{"topic": "Raft", "level": "senior"})
	require.False(t, isErr, text)
	var lesson llm.Lesson
	require.NoError(t, json.Unmarshal([]byte(text), &lesson))
	assert.Equal(t, "Raft", lesson.Topic)
	assert.Equal(t, llm.LevelSenior, lesson.ExpertiseLevel)

	_, isErr = call(t, cs, "generate_lesson", map[string]any{"topic": "Raft"})
	require.False(t, isErr)
	assert.Equal(t, llm.DefaultLevel, gen.lastLevel())
}

func TestInvalidArgumentsAreErrorResults(t *testing.T) {
	cs := connect(t, &fakeGenerator{}, ServerOptions{})

	text, isErr := call(t, cs, "generate_lesson", map[string]any{"topic": "  "})
	assert.True(t, isErr)
	assert.Contains(t, text, "topic is required")

	text, isErr = call(t, cs, "compare_topics", map[string]any{"topicA": "Kafka", "topicB": "NATS", "level": "intern"})
	assert.True(t, isErr)
	assert.Contains(t, text, `unknown level "intern"`)
}

func TestBackendFailureIsErrorResult(t *testing.T) {
	gen := &fakeGenerator{err: &llm.GenerationError{Op: "generate lesson", Err: llm.ErrTransient}}
	cs := connect(t, gen, ServerOptions{})
	text, isErr := call(t, cs, "generate_lesson", map[string]any{"topic": "Raft"})
	assert.True(t, isErr)
	assert.Contains(t, text, "generate_lesson failed")
	assert.Contains(t, text, "transient error")

	text, isErr = call(t, cs, "start_interview", map[string]any{"topic": "Raft"})
	assert.True(t, isErr)
	assert.Contains(t, text, "start_interview failed")
}

func TestTextTools(t *testing.T) {
	cs := connect(t, &fakeGenerator{}, ServerOptions{})

	text, isErr := call(t, cs, "follow_up", map[string]any{
		"topic":    "Go",
		"question": "why channels",
		"history":  []map[string]string{{"role": "user", "text": "hi"}, {"role": "model", "text": "hello"}},
	})
	require.False(t, isErr)
	assert.Equal(t, "why channels answered after 2 turns", text)

	text, isErr = call(t, cs, "execute_code", map[string]any{"code": "print(1)", "language": "python"})
	require.False(t, isErr)
	assert.Equal(t, "ran print(1)", text)

	text, isErr = call(t, cs, "trending_topics", map[string]any{})
	require.False(t, isErr)
	assert.JSONEq(t, `["AUTOSAR","CAN Bus Security"]`, text)

	text, isErr = call(t, cs, "evaluate_answer", map[string]any{"topic": "Go", "question": "q", "answer": "a"})
	require.False(t, isErr)
	assert.Contains(t, text, `"nextQuestion":"next?"`)
}

func TestSynthesizeSpeechSavesClip(t *testing.T) {
	dir := t.TempDir()
	wav := audio.BuildWAV([]byte{0, 0, 1, 0}, llm.SpeechSampleRate, 1, 16)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cs := connect(t, &fakeGenerator{wav: wav}, ServerOptions{SaveDir: dir, SpeechModel: "tts", Now: func() time.Time { return now }})

	text, isErr := call(t, cs, "synthesize_speech", map[string]any{"text": "hello"})
	require.False(t, isErr, text)
	var clip audio.Clip
	require.NoError(t, json.Unmarshal([]byte(text), &clip))
	assert.Equal(t, dir, filepath.Dir(clip.WAVPath))
	assert.Equal(t, "tts", clip.Model)
	assert.True(t, clip.CreatedAt.Equal(now))

	got, err := os.ReadFile(clip.WAVPath)
	require.NoError(t, err)
	assert.Equal(t, wav, got)
	_, err = os.Stat(strings.TrimSuffix(clip.WAVPath, ".wav") + ".json")
	assert.NoError(t, err)
}

func TestSynthesizeSpeechWithoutDir(t *testing.T) {
	cs := connect(t, &fakeGenerator{wav: []byte("x")}, ServerOptions{})
	text, isErr := call(t, cs, "synthesize_speech", map[string]any{"text": "hello"})
	assert.True(t, isErr)
	assert.Contains(t, text, "no audio directory")
}

func TestWebSocketEndpoint(t *testing.T) {
	srv := httptest.NewServer(WebSocketHandler(NewServer(&fakeGenerator{}, ServerOptions{})))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := sdk.NewClient(&sdk.Implementation{Name: "ws-client", Version: "v0.0.1"}, nil)
	cs, err := DialWebSocket(ctx, client, srv.URL)
	require.NoError(t, err)
	defer cs.Close()

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: "execute_code", Arguments: map[string]any{"code": "1+1", "language": "js"}})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, "ran 1+1", res.Content[0].(*sdk.TextContent).Text)
}

func TestDialWebSocketRejectsScheme(t *testing.T) {
	client := sdk.NewClient(&sdk.Implementation{Name: "ws-client", Version: "v0.0.1"}, nil)
	_, err := DialWebSocket(context.Background(), client, "ftp://example.com/mcp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestOpeningQuestionOverWebSocket(t *testing.T) {
	gen := &fakeGenerator{}
	srv := httptest.NewServer(WebSocketHandler(NewServer(gen, ServerOptions{})))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q, err := OpeningQuestion(ctx, srv.URL, "Raft", llm.LevelPrincipal)
	require.NoError(t, err)
	assert.Equal(t, "Explain Raft", q)
	assert.Equal(t, llm.LevelPrincipal, gen.lastLevel())
}

func TestOpeningQuestionReportsToolError(t *testing.T) {
	gen := &fakeGenerator{err: &llm.GenerationError{Op: "start interview", Err: llm.ErrPermanent}}
	srv := httptest.NewServer(WebSocketHandler(NewServer(gen, ServerOptions{})))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := OpeningQuestion(ctx, srv.URL, "Raft", llm.LevelJunior)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start_interview failed")
}
