package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/interview-voice-lab/internal/logging"
)

// FallbackTopics is returned by GenerateTrendingTopics when generation fails.
var FallbackTopics = []string{"System Design", "LLM Architecture", "Rust vs Go", "Kubernetes Internals"}

const (
	followUpEmpty   = "I couldn't generate an answer at this moment."
	followUpFailed  = "Sorry, I encountered an error while processing your question."
	executeEmpty    = "No output."
	executeFailed   = "Error executing code via AI service."
	defaultQuestion = "Tell me about your experience with this topic."
)

// structured runs prompt with s as the response schema, validates the reply
// against s and decodes it into out.
func (c *Client) structured(ctx context.Context, op, prompt string, s *schema, out any) error {
	req := promptRequest(prompt)
	req.GenerationConfig = &generationConfig{
		ResponseMimeType:   "application/json",
		ResponseJSONSchema: s.raw,
	}
	resp, err := c.generate(ctx, req)
	if err != nil {
		return &GenerationError{Op: op, Err: err}
	}
	text := strings.TrimSpace(resp.text())
	if text == "" {
		return &GenerationError{Op: op, Err: ErrEmptyResponse}
	}
	if err := s.validate([]byte(text)); err != nil {
		return &GenerationError{Op: op, Err: err}
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return &GenerationError{Op: op, Err: fmt.Errorf("%w: %v", ErrPermanent, err)}
	}
	return nil
}

// plain runs prompt and returns the reply text.
func (c *Client) plain(ctx context.Context, op, prompt string) (string, error) {
	resp, err := c.generate(ctx, promptRequest(prompt))
	if err != nil {
		return "", &GenerationError{Op: op, Err: err}
	}
	return strings.TrimSpace(resp.text()), nil
}

func (c *Client) GenerateLesson(ctx context.Context, topic string, level ExpertiseLevel) (*Lesson, error) {
	var out Lesson
	if err := c.structured(ctx, "generate lesson", lessonPrompt(topic, level), lessonSchema, &out); err != nil {
		return nil, err
	}
	if out.ExpertiseLevel == "" {
		out.ExpertiseLevel = level
	}
	return &out, nil
}

func (c *Client) GenerateComparison(ctx context.Context, topicA, topicB string, level ExpertiseLevel) (*Comparison, error) {
	var out Comparison
	if err := c.structured(ctx, "generate comparison", comparisonPrompt(topicA, topicB, level), comparisonSchema, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateTrendingTopics never fails; on any error it returns FallbackTopics.
func (c *Client) GenerateTrendingTopics(ctx context.Context, domain string) []string {
	var out []string
	if err := c.structured(ctx, "trending topics", trendingPrompt(domain), topicsSchema, &out); err != nil || len(out) == 0 {
		if err != nil {
			logging.WarnwCtx(ctx, "llm: trending topics fallback", "error", err)
		}
		return append([]string(nil), FallbackTopics...)
	}
	return out
}

func (c *Client) GenerateInterviewPrep(ctx context.Context, topic string, level ExpertiseLevel) (*InterviewPrep, error) {
	var out InterviewPrep
	if err := c.structured(ctx, "interview prep", prepPrompt(topic, level), prepSchema, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FollowUpAnswer answers question in the context of history. Failures are
// reported as user-facing text.
func (c *Client) FollowUpAnswer(ctx context.Context, topic string, history []Turn, question string, level ExpertiseLevel) string {
	text, err := c.plain(ctx, "follow up", followUpPrompt(topic, history, question, level))
	if err != nil {
		logging.WarnwCtx(ctx, "llm: follow up failed", "error", err)
		return followUpFailed
	}
	if text == "" {
		return followUpEmpty
	}
	return text
}

// ExecuteCode asks the model to simulate running code.
func (c *Client) ExecuteCode(ctx context.Context, code, language string) string {
	text, err := c.plain(ctx, "execute code", executePrompt(code, language))
	if err != nil {
		logging.WarnwCtx(ctx, "llm: execute code failed", "error", err)
		return executeFailed
	}
	if text == "" {
		return executeEmpty
	}
	return text
}

// StartInterview returns the opening question of a text interview.
func (c *Client) StartInterview(ctx context.Context, topic string, level ExpertiseLevel) (string, error) {
	text, err := c.plain(ctx, "start interview", startInterviewPrompt(topic, level))
	if err != nil {
		return "", err
	}
	if text == "" {
		return defaultQuestion, nil
	}
	return text, nil
}

func (c *Client) EvaluateAnswer(ctx context.Context, topic, question, answer string) (*Evaluation, error) {
	var out Evaluation
	if err := c.structured(ctx, "evaluate answer", evaluatePrompt(topic, question, answer), evaluationSchema, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InterviewInstruction is the system instruction for a voice interview.
func InterviewInstruction(topic string, level ExpertiseLevel) string {
	return OpeningInstruction(topic, level, "")
}

// OpeningInstruction is InterviewInstruction with a fixed first question,
// typically one prepared by the content server. A blank question leaves the
// choice to the model.
func OpeningInstruction(topic string, level ExpertiseLevel, question string) string {
	first := "asking the first technical question."
	if q := strings.TrimSpace(question); q != "" {
		first = fmt.Sprintf("asking this first question: %q.", q)
	}
	return fmt.Sprintf("You are a strict but fair technical interviewer at a top tech company. "+
		"The topic is %s. The candidate level is %s. Conduct a verbal interview. "+
		"Start by briefly introducing yourself and %s "+
		"Listen to the candidate's answer, provide brief, constructive feedback, and then ask the next question. "+
		"Keep your responses concise and conversational.", topic, level, first)
}

func lessonPrompt(topic string, level ExpertiseLevel) string {
	return fmt.Sprintf(`You are a world-class Computer Science professor and Senior Staff Software Engineer.
Create a highly engaging, interactive learning module about the topic: %q.

Target Audience Level: %s.

Structure the content specifically for this level.
- For EL5: Use analogies (e.g., traffic, food, post office).
- For Junior: Focus on implementation and basic 'how-to'.
- For Senior: Focus on trade-offs, scalability, edge cases, and performance.
- For Principal: Focus on historical evolution, deep internals, distributed systems implications, and future trends.

CRITICAL INSTRUCTIONS:
1. 'diagramMermaid':
   - If the topic is a PROCESS or PROTOCOL (e.g., OAuth, TCP Handshake, Request Lifecycle), generate a 'sequenceDiagram'.
   - If the topic is a SYSTEM STRUCTURE (e.g., Kubernetes Arch, Database Internals), generate a 'graph TD'.
   - USE LOWERCASE KEYWORDS (e.g., 'subgraph', 'end', 'graph', 'participant').
   - Avoid complex styling or classes.
2. 'hotTake': Provide a spicy, nuanced, or controversial engineering opinion about this topic.
3. 'quiz': Create a scenario-based multiple choice question to test understanding.
4. 'rabbitHoles': Suggest 5-6 diverse follow-up topics.
   - 'Deep Dive': Advanced internals or specific sub-components.
   - 'Related': Tangential concepts often used together.
   - 'Prerequisite': Fundamental concepts required to fully understand this.
   - 'Similar': Comparable technologies or alternatives.
   Use "click-bait" style hooks for the titles.
5. 'pitfalls': List 3 common engineering mistakes/anti-patterns related to this.
6. 'popularity': A short phrase describing industry adoption (e.g. "Industry Standard", "Rapidly Evolving", "Legacy").
7. 'coreConcepts': For each concept, if applicable, provide a short, runnable 'codeSnippet' (in Python, JS, Go, or SQL) that demonstrates the concept.

Return the response in JSON format.`, topic, level)
}

func comparisonPrompt(a, b string, level ExpertiseLevel) string {
	return fmt.Sprintf(`You are a Senior Technical Consultant.
Compare and contrast %q vs %q.
Target Audience Level: %s.

Provide a "Tale of the Tape" style comparison.
1. 'overview': A punchy executive summary of the relationship between them.
2. 'similarities': What DNA do they share?
3. 'differences': Create a strict point-by-point comparison (e.g., Performance, Scalability, Ease of Use, Cost).
4. 'verdict': A final recommendation on how to choose between them.

Return the response in JSON format.`, a, b, level)
}

func trendingPrompt(domain string) string {
	return fmt.Sprintf(`Generate a list of 7 trending, cutting-edge, or important engineering topics related to the domain: %q.
Examples for "General Tech": "System Design", "Rust vs Go", "Microservices".
Examples for "Automotive": "AUTOSAR", "V2X Communication", "Tesla Vision", "CAN Bus Security".
Keep the topic names short, punchy, and standard (max 4 words).
Return a JSON array of strings.`, domain)
}

func prepPrompt(topic string, level ExpertiseLevel) string {
	return fmt.Sprintf(`You are a hiring manager at a top tech company (FAANG).
Create a comprehensive "Interview Prep Guide" for the topic: %q.
Target Candidate Level: %s.

1. 'technicalQuestions': Provide 5-7 challenging technical questions often asked in interviews about this topic. Include the "Gold Standard" answer.
2. 'systemDesignChallenge': A scenario where this topic is a key component. How should the candidate approach designing it?
3. 'resumeBulletPoints': 3 impactful bullet points a candidate could put on their resume to show mastery of this.
4. 'starExample': A behavioral answer example using Situation, Task, Action, Result format about a challenge with this topic.

Return the response in JSON format.`, topic, level)
}

func followUpPrompt(topic string, history []Turn, question string, level ExpertiseLevel) string {
	lines := make([]string, 0, len(history))
	for _, h := range history {
		lines = append(lines, h.Role+": "+h.Text)
	}
	return fmt.Sprintf(`Context Topic: %s
Current Expertise Level: %s

Conversation History:
%s

User Question: %s

Please answer the user's question concisely but accurately, maintaining the persona of a helpful senior engineer mentor.
Use Markdown for code snippets or emphasis.`, topic, level, strings.Join(lines, "\n"), question)
}

func executePrompt(code, language string) string {
	return fmt.Sprintf(`You are a code execution engine and compiler.
Language: %s
Code:
%s

Execute the code mentally and return the output (stdout).
If there is a compilation error or runtime error, return the error message.
If the code is a snippet without print statements, explain what the result of the last expression would be.

Return ONLY the output text. No markdown formatting blocks around it.`, language, code)
}

func startInterviewPrompt(topic string, level ExpertiseLevel) string {
	return fmt.Sprintf(`You are interviewing a candidate for a Software Engineering role.
The topic is: %s.
The expected level is: %s.

Generate the first interview question.
It should be open-ended and challenging enough for the level.
Do not greet. Just ask the question directly.`, topic, level)
}

func evaluatePrompt(topic, question, answer string) string {
	return fmt.Sprintf(`Topic: %s
Interview Question: %s
Candidate Answer: %s

Task:
1. Evaluate the answer (1-10).
2. Provide a short critique (what was missing?).
3. Provide a concise better answer (the 'gold standard').
4. Generate the NEXT question (related but exploring a different angle or deeper).

Return JSON.`, topic, question, answer)
}
