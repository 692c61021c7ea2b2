package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/interview-voice-lab/internal/audio"
	"github.com/interview-voice-lab/internal/logging"
	"github.com/interview-voice-lab/llm"
)

// Generator is the content backend behind the tools; *llm.Client satisfies it.
type Generator interface {
	GenerateLesson(ctx context.Context, topic string, level llm.ExpertiseLevel) (*llm.Lesson, error)
	GenerateComparison(ctx context.Context, topicA, topicB string, level llm.ExpertiseLevel) (*llm.Comparison, error)
	GenerateTrendingTopics(ctx context.Context, domain string) []string
	GenerateInterviewPrep(ctx context.Context, topic string, level llm.ExpertiseLevel) (*llm.InterviewPrep, error)
	FollowUpAnswer(ctx context.Context, topic string, history []llm.Turn, question string, level llm.ExpertiseLevel) string
	ExecuteCode(ctx context.Context, code, language string) string
	StartInterview(ctx context.Context, topic string, level llm.ExpertiseLevel) (string, error)
	EvaluateAnswer(ctx context.Context, topic, question, answer string) (*llm.Evaluation, error)
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)
}

type ServerOptions struct {
	Name    string
	Version string
	// SaveDir receives synthesized WAV clips. synthesize_speech fails when empty.
	SaveDir string
	// SpeechModel is recorded in clip sidecars.
	SpeechModel string
	Now         func() time.Time
}

// errInvalidArgs marks a tool call rejected before reaching the backend.
var errInvalidArgs = errors.New("invalid arguments")

type tools struct {
	gen  Generator
	opts ServerOptions
}

// NewServer builds an MCP server exposing the content tools.
func NewServer(gen Generator, opts ServerOptions) *sdk.Server {
	if opts.Name == "" {
		opts.Name = "interview-content"
	}
	if opts.Version == "" {
		opts.Version = "v0.1.0"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	t := &tools{gen: gen, opts: opts}
	server := sdk.NewServer(&sdk.Implementation{Name: opts.Name, Version: opts.Version}, nil)

	sdk.AddTool(server, &sdk.Tool{Name: "generate_lesson", Description: "Generate a structured lesson about a technical topic"}, t.lesson)
	sdk.AddTool(server, &sdk.Tool{Name: "compare_topics", Description: "Compare two technical topics point by point"}, t.compare)
	sdk.AddTool(server, &sdk.Tool{Name: "trending_topics", Description: "List trending engineering topics for a domain"}, t.trending)
	sdk.AddTool(server, &sdk.Tool{Name: "interview_prep", Description: "Build an interview preparation guide for a topic"}, t.prep)
	sdk.AddTool(server, &sdk.Tool{Name: "follow_up", Description: "Answer a follow-up question about a lesson"}, t.followUp)
	sdk.AddTool(server, &sdk.Tool{Name: "execute_code", Description: "Simulate running a code snippet and return its output"}, t.execute)
	sdk.AddTool(server, &sdk.Tool{Name: "start_interview", Description: "Ask the opening question of a text interview"}, t.startInterview)
	sdk.AddTool(server, &sdk.Tool{Name: "evaluate_answer", Description: "Grade an interview answer and ask the next question"}, t.evaluate)
	sdk.AddTool(server, &sdk.Tool{Name: "synthesize_speech", Description: "Read text aloud and save it as a WAV clip"}, t.speech)
	return server
}

type LessonArgs struct {
	Topic string `json:"topic" jsonschema:"the topic to teach"`
	Level string `json:"level,omitempty" jsonschema:"expertise level (eli5, junior, senior, principal)"`
}

type CompareArgs struct {
	TopicA string `json:"topicA" jsonschema:"first topic"`
	TopicB string `json:"topicB" jsonschema:"second topic"`
	Level  string `json:"level,omitempty" jsonschema:"expertise level"`
}

type TrendingArgs struct {
	Domain string `json:"domain,omitempty" jsonschema:"domain to pick topics from"`
}

type FollowUpArgs struct {
	Topic    string     `json:"topic" jsonschema:"lesson topic"`
	Question string     `json:"question" jsonschema:"the user's question"`
	History  []llm.Turn `json:"history,omitempty" jsonschema:"earlier conversation turns"`
	Level    string     `json:"level,omitempty" jsonschema:"expertise level"`
}

type ExecuteArgs struct {
	Code     string `json:"code" jsonschema:"source code to run"`
	Language string `json:"language" jsonschema:"programming language"`
}

type EvaluateArgs struct {
	Topic    string `json:"topic" jsonschema:"interview topic"`
	Question string `json:"question" jsonschema:"the question that was asked"`
	Answer   string `json:"answer" jsonschema:"the candidate's answer"`
}

type SpeechArgs struct {
	Text string `json:"text" jsonschema:"text to read aloud"`
}

func (t *tools) lesson(ctx context.Context, _ *sdk.CallToolRequest, args LessonArgs) (*sdk.CallToolResult, any, error) {
	level, err := parseLevel(args.Level)
	if err != nil || blank(args.Topic) {
		return invalid("generate_lesson", err, "topic is required"), nil, nil
	}
	out, err := t.gen.GenerateLesson(ctx, args.Topic, level)
	return t.finish(ctx, "generate_lesson", out, err)
}

func (t *tools) compare(ctx context.Context, _ *sdk.CallToolRequest, args CompareArgs) (*sdk.CallToolResult, any, error) {
	level, err := parseLevel(args.Level)
	if err != nil || blank(args.TopicA) || blank(args.TopicB) {
		return invalid("compare_topics", err, "topicA and topicB are required"), nil, nil
	}
	out, err := t.gen.GenerateComparison(ctx, args.TopicA, args.TopicB, level)
	return t.finish(ctx, "compare_topics", out, err)
}

func (t *tools) trending(ctx context.Context, _ *sdk.CallToolRequest, args TrendingArgs) (*sdk.CallToolResult, any, error) {
	domain := args.Domain
	if blank(domain) {
		domain = "General Tech"
	}
	return t.finish(ctx, "trending_topics", t.gen.GenerateTrendingTopics(ctx, domain), nil)
}

func (t *tools) prep(ctx context.Context, _ *sdk.CallToolRequest, args LessonArgs) (*sdk.CallToolResult, any, error) {
	level, err := parseLevel(args.Level)
	if err != nil || blank(args.Topic) {
		return invalid("interview_prep", err, "topic is required"), nil, nil
	}
	out, err := t.gen.GenerateInterviewPrep(ctx, args.Topic, level)
	return t.finish(ctx, "interview_prep", out, err)
}

func (t *tools) followUp(ctx context.Context, _ *sdk.CallToolRequest, args FollowUpArgs) (*sdk.CallToolResult, any, error) {
	level, err := parseLevel(args.Level)
	if err != nil || blank(args.Question) {
		return invalid("follow_up", err, "question is required"), nil, nil
	}
	return textResult(t.gen.FollowUpAnswer(ctx, args.Topic, args.History, args.Question, level)), nil, nil
}

func (t *tools) execute(ctx context.Context, _ *sdk.CallToolRequest, args ExecuteArgs) (*sdk.CallToolResult, any, error) {
	if blank(args.Code) {
		return invalid("execute_code", nil, "code is required"), nil, nil
	}
	return textResult(t.gen.ExecuteCode(ctx, args.Code, args.Language)), nil, nil
}

func (t *tools) startInterview(ctx context.Context, _ *sdk.CallToolRequest, args LessonArgs) (*sdk.CallToolResult, any, error) {
	level, err := parseLevel(args.Level)
	if err != nil || blank(args.Topic) {
		return invalid("start_interview", err, "topic is required"), nil, nil
	}
	q, err := t.gen.StartInterview(ctx, args.Topic, level)
	if err != nil {
		return failed(ctx, "start_interview", err), nil, nil
	}
	return textResult(q), nil, nil
}

func (t *tools) evaluate(ctx context.Context, _ *sdk.CallToolRequest, args EvaluateArgs) (*sdk.CallToolResult, any, error) {
	if blank(args.Question) || blank(args.Answer) {
		return invalid("evaluate_answer", nil, "question and answer are required"), nil, nil
	}
	out, err := t.gen.EvaluateAnswer(ctx, args.Topic, args.Question, args.Answer)
	return t.finish(ctx, "evaluate_answer", out, err)
}

func (t *tools) speech(ctx context.Context, _ *sdk.CallToolRequest, args SpeechArgs) (*sdk.CallToolResult, any, error) {
	if blank(args.Text) {
		return invalid("synthesize_speech", nil, "text is required"), nil, nil
	}
	if t.opts.SaveDir == "" {
		return failed(ctx, "synthesize_speech", errors.New("no audio directory configured")), nil, nil
	}
	wav, err := t.gen.SynthesizeSpeech(ctx, args.Text)
	if err != nil {
		return failed(ctx, "synthesize_speech", err), nil, nil
	}
	clip, err := audio.SaveClip(t.opts.SaveDir, audio.Clip{
		ID:        uuid.NewString(),
		Text:      args.Text,
		Model:     t.opts.SpeechModel,
		CreatedAt: t.opts.Now().UTC(),
	}, wav)
	if err != nil {
		return failed(ctx, "synthesize_speech", err), nil, nil
	}
	logging.InfowCtx(ctx, "mcp: speech saved", "path", clip.WAVPath, "bytes", clip.Bytes)
	return t.finish(ctx, "synthesize_speech", clip, nil)
}

// finish encodes out as JSON text, or converts err into an error result.
func (t *tools) finish(ctx context.Context, tool string, out any, err error) (*sdk.CallToolResult, any, error) {
	if err != nil {
		return failed(ctx, tool, err), nil, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return failed(ctx, tool, err), nil, nil
	}
	return textResult(string(data)), nil, nil
}

func textResult(text string) *sdk.CallToolResult {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: text}}}
}

func errorResult(msg string) *sdk.CallToolResult {
	return &sdk.CallToolResult{IsError: true, Content: []sdk.Content{&sdk.TextContent{Text: msg}}}
}

func failed(ctx context.Context, tool string, err error) *sdk.CallToolResult {
	logging.WarnwCtx(ctx, "mcp: tool failed", "tool", tool, "error", err)
	return errorResult(fmt.Sprintf("%s failed: %v", tool, err))
}

func invalid(tool string, err error, fallback string) *sdk.CallToolResult {
	msg := fallback
	if err != nil {
		msg = err.Error()
	}
	return errorResult(fmt.Sprintf("%s: %v: %s", tool, errInvalidArgs, msg))
}

func parseLevel(s string) (llm.ExpertiseLevel, error) {
	if blank(s) {
		return llm.DefaultLevel, nil
	}
	level, ok := llm.ParseLevel(strings.TrimSpace(s))
	if !ok {
		return "", fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
