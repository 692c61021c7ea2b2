package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// schema is a response schema sent with the request and checked locally
// against the reply.
type schema struct {
	name     string
	raw      json.RawMessage
	compiled *gojsonschema.Schema
}

func mustSchema(name, raw string) *schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("llm: schema %s: %v", name, err))
	}
	return &schema{name: name, raw: json.RawMessage(raw), compiled: compiled}
}

// validate reports every violation of doc against s in one error.
func (s *schema) validate(doc []byte) error {
	res, err := s.compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %s: invalid JSON: %v", ErrPermanent, s.name, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s: %s", ErrPermanent, s.name, strings.Join(msgs, "; "))
}

var lessonSchema = mustSchema("lesson", `{
  "type": "object",
  "properties": {
    "topic": {"type": "string"},
    "expertiseLevel": {"type": "string"},
    "summary": {"type": "string", "description": "A high-level executive summary of the topic."},
    "historicalContext": {"type": "string", "description": "Why was this invented? What problem did it solve?"},
    "coreConcepts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "content": {"type": "string", "description": "The explanation. Use Markdown."},
          "icon": {"type": "string", "description": "A suggested Lucide icon name."},
          "codeSnippet": {
            "type": "object",
            "properties": {
              "language": {"type": "string"},
              "code": {"type": "string"}
            },
            "required": ["language", "code"]
          }
        },
        "required": ["title", "content"]
      }
    },
    "diagramMermaid": {"type": "string", "description": "Valid mermaid.js code block (no backticks)."},
    "realWorldExample": {"type": "string"},
    "commonUseCases": {"type": "array", "items": {"type": "string"}, "description": "List of 3-4 specific real-world applications."},
    "pitfalls": {"type": "array", "items": {"type": "string"}, "description": "Common mistakes or anti-patterns."},
    "popularity": {"type": "string", "description": "Adoption status."},
    "hotTake": {"type": "string", "description": "A controversial or counter-intuitive opinion on this topic."},
    "quiz": {
      "type": "object",
      "properties": {
        "question": {"type": "string"},
        "options": {"type": "array", "items": {"type": "string"}},
        "correctIndex": {"type": "integer"},
        "explanation": {"type": "string"}
      },
      "required": ["question", "options", "correctIndex", "explanation"]
    },
    "rabbitHoles": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "topic": {"type": "string", "description": "The exact topic name to search next."},
          "hook": {"type": "string", "description": "A catchy title like 'Why X is dying' or 'The hidden cost of Y'."},
          "type": {"type": "string", "enum": ["Deep Dive", "Related", "Prerequisite", "Similar"]}
        },
        "required": ["topic", "hook", "type"]
      }
    },
    "followUpSuggestions": {"type": "array", "items": {"type": "string"}, "description": "3-4 curious follow-up questions."}
  },
  "required": ["topic", "summary", "coreConcepts", "diagramMermaid", "realWorldExample", "commonUseCases", "pitfalls", "popularity", "hotTake", "quiz", "rabbitHoles", "followUpSuggestions"]
}`)

var comparisonSchema = mustSchema("comparison", `{
  "type": "object",
  "properties": {
    "topicA": {"type": "string"},
    "topicB": {"type": "string"},
    "overview": {"type": "string"},
    "similarities": {"type": "array", "items": {"type": "string"}},
    "differences": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "feature": {"type": "string", "description": "The attribute being compared (e.g. 'Latency', 'Consistency')"},
          "topicAValue": {"type": "string", "description": "How Topic A handles this."},
          "topicBValue": {"type": "string", "description": "How Topic B handles this."}
        },
        "required": ["feature", "topicAValue", "topicBValue"]
      }
    },
    "verdict": {"type": "string", "description": "The final conclusion/heuristic for choosing."},
    "topicAUseCases": {"type": "array", "items": {"type": "string"}},
    "topicBUseCases": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["topicA", "topicB", "overview", "similarities", "differences", "verdict", "topicAUseCases", "topicBUseCases"]
}`)

var topicsSchema = mustSchema("topics", `{
  "type": "array",
  "items": {"type": "string"}
}`)

var prepSchema = mustSchema("interview prep", `{
  "type": "object",
  "properties": {
    "topic": {"type": "string"},
    "technicalQuestions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "question": {"type": "string"},
          "answer": {"type": "string", "description": "Detailed model answer."},
          "keyPoints": {"type": "array", "items": {"type": "string"}, "description": "Keywords interviewers listen for."}
        },
        "required": ["question", "answer", "keyPoints"]
      }
    },
    "systemDesignChallenge": {
      "type": "object",
      "properties": {
        "scenario": {"type": "string"},
        "constraints": {"type": "array", "items": {"type": "string"}},
        "approach": {"type": "string", "description": "Step-by-step solution approach in Markdown."}
      },
      "required": ["scenario", "constraints", "approach"]
    },
    "resumeBulletPoints": {"type": "array", "items": {"type": "string"}},
    "starExample": {
      "type": "object",
      "properties": {
        "situation": {"type": "string"},
        "task": {"type": "string"},
        "action": {"type": "string"},
        "result": {"type": "string"}
      },
      "required": ["situation", "task", "action", "result"]
    }
  },
  "required": ["topic", "technicalQuestions", "systemDesignChallenge", "resumeBulletPoints", "starExample"]
}`)

var evaluationSchema = mustSchema("evaluation", `{
  "type": "object",
  "properties": {
    "feedback": {
      "type": "object",
      "properties": {
        "rating": {"type": "integer"},
        "critique": {"type": "string"},
        "betterAnswer": {"type": "string"}
      },
      "required": ["rating", "critique", "betterAnswer"]
    },
    "nextQuestion": {"type": "string"}
  },
  "required": ["feedback", "nextQuestion"]
}`)
