package schemas

import "encoding/json"

// Action names a request sent to the page-side executor.
type Action string

const (
	ActionFillPrompt           Action = "fillPrompt"
	ActionClickGenerate        Action = "clickGenerate"
	ActionClickDownload        Action = "clickDownload"
	ActionGetStatus            Action = "getStatus"
	ActionWaitForCompletion    Action = "waitForCompletion"
	ActionApplyVideoSpecs      Action = "applyVideoSpecs"
	ActionStartPicker          Action = "startPicker"
	ActionStopPicker           Action = "stopPicker"
	ActionUpdatePickedElements Action = "updatePickedElements"
	ActionTestElement          Action = "testElement"
	ActionPing                 Action = "ping"
	// ActionCancelWait ends an in-flight waitForCompletion.
	ActionCancelWait           Action = "cancelWait"
)

// Request is one message crossing the orchestrator/executor boundary.
// Payload holds the action-specific arguments already encoded as JSON.
type Request struct {
	ID      string          `json:"id"`
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response carries the encoded result for Request.ID.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// FillPromptPayload is the argument of fillPrompt.
type FillPromptPayload struct {
	Text string `json:"text"`
}

// WaitPayload is the argument of waitForCompletion. Timeout is in milliseconds.
type WaitPayload struct {
	Timeout int64 `json:"timeout"`
}

// ApplySpecsPayload is the argument of applyVideoSpecs.
type ApplySpecsPayload struct {
	Specs VideoSpecs `json:"specs"`
}

// PickerPayload is the argument of startPicker.
type PickerPayload struct {
	Role ElementRole `json:"role"`
}

// TestElementPayload is the argument of testElement.
type TestElementPayload struct {
	Key ElementRole `json:"key"`
}

// ActionResult is the common {success, error} result.
type ActionResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`
}

// PageStatus is the derived page state reported by getStatus and the watcher.
type PageStatus string

const (
	PageIdle       PageStatus = "idle"
	PageGenerating PageStatus = "generating"
	PageComplete   PageStatus = "complete"
	PageError      PageStatus = "error"
	PageTimeout    PageStatus = "timeout"
)

// StatusResult is returned by getStatus and waitForCompletion.
type StatusResult struct {
	Status   PageStatus `json:"status"`
	Message  string     `json:"message,omitempty"`
	VideoURL string     `json:"videoUrl,omitempty"`
}

// SpecFieldResult records how one video option was applied.
type SpecFieldResult struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SpecResult is returned by applyVideoSpecs, keyed by option.
type SpecResult map[SpecField]SpecFieldResult

// TestResult is returned by testElement.
type TestResult struct {
	Found bool   `json:"found"`
	Tag   string `json:"tag,omitempty"`
	Label string `json:"label,omitempty"`
}

// PingResult is returned by ping.
type PingResult struct {
	Alive bool `json:"alive"`
}

// ErrorResult is returned for requests the executor cannot serve.
type ErrorResult struct {
	Error string `json:"error"`
}

// PageMessageType names an unsolicited message sent by the page executor.
type PageMessageType string

const (
	PageElementPicked   PageMessageType = "elementPicked"
	PagePickerCancelled PageMessageType = "pickerCancelled"
)

// PageMessage is an unsolicited message from the executor to the orchestrator.
type PageMessage struct {
	Type    PageMessageType `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ElementPickedPayload carries the descriptor captured by the picker.
type ElementPickedPayload struct {
	Role       ElementRole       `json:"role"`
	Descriptor ElementDescriptor `json:"descriptor"`
}
