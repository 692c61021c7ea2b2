package llm

// ExpertiseLevel tunes generated content to the audience.
type ExpertiseLevel string

const (
	LevelELI5      ExpertiseLevel = "Explain Like I'm 5"
	LevelJunior    ExpertiseLevel = "Junior Engineer"
	LevelSenior    ExpertiseLevel = "Senior Engineer"
	LevelPrincipal ExpertiseLevel = "Principal / Architect"
)

// DefaultLevel applies when no level is given.
const DefaultLevel = LevelJunior

// Levels lists every ExpertiseLevel from least to most senior.
var Levels = []ExpertiseLevel{LevelELI5, LevelJunior, LevelSenior, LevelPrincipal}

// ParseLevel matches s against the level names and a few short aliases.
func ParseLevel(s string) (ExpertiseLevel, bool) {
	switch s {
	case "eli5", "el5":
		return LevelELI5, true
	case "junior":
		return LevelJunior, true
	case "senior":
		return LevelSenior, true
	case "principal", "architect":
		return LevelPrincipal, true
	}
	for _, l := range Levels {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}

type CodeSnippet struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type Concept struct {
	Title       string       `json:"title"`
	Content     string       `json:"content"`
	Icon        string       `json:"icon,omitempty"`
	CodeSnippet *CodeSnippet `json:"codeSnippet,omitempty"`
}

type Quiz struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation"`
}

type RabbitHole struct {
	Topic string `json:"topic"`
	Hook  string `json:"hook"`
	// Type is one of "Deep Dive", "Related", "Prerequisite", "Similar".
	Type string `json:"type"`
}

type Lesson struct {
	Topic               string         `json:"topic"`
	ExpertiseLevel      ExpertiseLevel `json:"expertiseLevel,omitempty"`
	Summary             string         `json:"summary"`
	HistoricalContext   string         `json:"historicalContext,omitempty"`
	CoreConcepts        []Concept      `json:"coreConcepts"`
	DiagramMermaid      string         `json:"diagramMermaid"`
	RealWorldExample    string         `json:"realWorldExample"`
	CommonUseCases      []string       `json:"commonUseCases"`
	Pitfalls            []string       `json:"pitfalls"`
	Popularity          string         `json:"popularity"`
	HotTake             string         `json:"hotTake"`
	Quiz                Quiz           `json:"quiz"`
	RabbitHoles         []RabbitHole   `json:"rabbitHoles"`
	FollowUpSuggestions []string       `json:"followUpSuggestions"`
}

type Difference struct {
	Feature     string `json:"feature"`
	TopicAValue string `json:"topicAValue"`
	TopicBValue string `json:"topicBValue"`
}

type Comparison struct {
	TopicA         string       `json:"topicA"`
	TopicB         string       `json:"topicB"`
	Overview       string       `json:"overview"`
	Similarities   []string     `json:"similarities"`
	Differences    []Difference `json:"differences"`
	Verdict        string       `json:"verdict"`
	TopicAUseCases []string     `json:"topicAUseCases"`
	TopicBUseCases []string     `json:"topicBUseCases"`
}

type TechnicalQuestion struct {
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	KeyPoints []string `json:"keyPoints"`
}

type DesignChallenge struct {
	Scenario    string   `json:"scenario"`
	Constraints []string `json:"constraints"`
	Approach    string   `json:"approach"`
}

type STARExample struct {
	Situation string `json:"situation"`
	Task      string `json:"task"`
	Action    string `json:"action"`
	Result    string `json:"result"`
}

type InterviewPrep struct {
	Topic                 string              `json:"topic"`
	TechnicalQuestions    []TechnicalQuestion `json:"technicalQuestions"`
	SystemDesignChallenge DesignChallenge     `json:"systemDesignChallenge"`
	ResumeBulletPoints    []string            `json:"resumeBulletPoints"`
	StarExample           STARExample         `json:"starExample"`
}

type Feedback struct {
	Rating       int    `json:"rating"`
	Critique     string `json:"critique"`
	BetterAnswer string `json:"betterAnswer"`
}

// Evaluation grades one interview answer and proposes the next question.
type Evaluation struct {
	Feedback     Feedback `json:"feedback"`
	NextQuestion string   `json:"nextQuestion"`
}

// Turn is one line of a follow-up conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}
