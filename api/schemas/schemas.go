package schemas

import "strings"

// PromptStatus is the lifecycle state of a queued prompt.
type PromptStatus string

const (
	PromptPending    PromptStatus = "pending"
	PromptGenerating PromptStatus = "generating"
	PromptDone       PromptStatus = "done"
	PromptFailed     PromptStatus = "failed"
)

// Terminal reports whether the orchestrator skips items in this state.
// Anything else, including a generating item left behind by an
// interrupted run, is processed as pending.
func (s PromptStatus) Terminal() bool {
	return s == PromptDone || s == PromptFailed
}

// PromptItem is one entry of the prompt queue.
type PromptItem struct {
	Text   string       `json:"text"`
	Status PromptStatus `json:"status"`
}

// NewPromptItem trims text and returns a pending item.
func NewPromptItem(text string) PromptItem {
	return PromptItem{Text: strings.TrimSpace(text), Status: PromptPending}
}

// PipelineStatus is the persisted status of the pipeline.
type PipelineStatus string

const (
	PipelineIdle    PipelineStatus = "idle"
	PipelineRunning PipelineStatus = "running"
	PipelinePaused  PipelineStatus = "paused"
	PipelineError   PipelineStatus = "error"
)

// PipelineState survives restarts so a run can resume where it left off.
type PipelineState struct {
	Status       PipelineStatus `json:"status"`
	CurrentIndex int            `json:"currentIndex"`
	RetryCount   int            `json:"retryCount"`
}

// DefaultPipelineState is the state after a reset.
func DefaultPipelineState() PipelineState {
	return PipelineState{Status: PipelineIdle}
}

// Settings are the user-tunable pipeline parameters.
type Settings struct {
	// DelayBetween is the pause between prompts, in seconds.
	DelayBetween int  `json:"delayBetween"`
	AutoDownload bool `json:"autoDownload"`
	MaxRetries   int  `json:"maxRetries"`
	// CompletionTimeout bounds each completion wait, in seconds.
	CompletionTimeout int `json:"completionTimeout"`
}

// DefaultSettings returns the settings used when none are stored.
func DefaultSettings() Settings {
	return Settings{
		DelayBetween:      5,
		AutoDownload:      true,
		MaxRetries:        2,
		CompletionTimeout: 300,
	}
}

// VideoSpecs are optional generation options applied before each attempt.
type VideoSpecs struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Style       string `json:"style,omitempty"`
}

// SpecField names one video option.
type SpecField string

const (
	SpecAspectRatio SpecField = "aspectRatio"
	SpecDuration    SpecField = "duration"
	SpecStyle       SpecField = "style"
)

// SpecValue is a single option/value pair.
type SpecValue struct {
	Field SpecField `json:"field"`
	Value string    `json:"value"`
}

// Fields returns the non-empty options in application order.
func (v VideoSpecs) Fields() []SpecValue {
	var out []SpecValue
	for _, f := range []SpecValue{
		{SpecAspectRatio, v.AspectRatio},
		{SpecDuration, v.Duration},
		{SpecStyle, v.Style},
	} {
		if f.Value != "" {
			out = append(out, f)
		}
	}
	return out
}

// Empty reports whether no option is set.
func (v VideoSpecs) Empty() bool {
	return len(v.Fields()) == 0
}

// LogType classifies entries in the persistent activity log.
type LogType string

const (
	LogInfo    LogType = "info"
	LogSuccess LogType = "success"
	LogError   LogType = "error"
)

// LogEntry is one line of the activity log. Timestamp is in unix milliseconds.
type LogEntry struct {
	Type      LogType `json:"type"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
}

// MaxLogEntries caps the activity log; older entries are dropped first.
const MaxLogEntries = 200
