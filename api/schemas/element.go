package schemas

// ElementRole names a page capability the automator needs to locate.
type ElementRole string

const (
	RolePromptInput      ElementRole = "promptInput"
	RoleGenerateButton   ElementRole = "generateButton"
	RoleDownloadButton   ElementRole = "downloadButton"
	RoleVideoElement     ElementRole = "videoElement"
	RoleLoadingIndicator ElementRole = "loadingIndicator"
	RoleErrorIndicator   ElementRole = "errorIndicator"
	RoleAspectRatio      ElementRole = "spec_aspectRatio"
	RoleDuration         ElementRole = "spec_duration"
	RoleStyle            ElementRole = "spec_style"
)

// SpecRole returns the role under which the control for field is picked.
func SpecRole(field SpecField) ElementRole {
	return ElementRole("spec_" + string(field))
}

// PickableRoles lists roles the user may teach with the picker.
var PickableRoles = []ElementRole{
	RolePromptInput,
	RoleGenerateButton,
	RoleDownloadButton,
	RoleVideoElement,
	RoleLoadingIndicator,
	RoleErrorIndicator,
	RoleAspectRatio,
	RoleDuration,
	RoleStyle,
}

// ValidRole reports whether r is one of PickableRoles.
func ValidRole(r ElementRole) bool {
	for _, known := range PickableRoles {
		if r == known {
			return true
		}
	}
	return false
}

// PathStep is one hop in a positional path from the document body.
// Index counts element siblings only.
type PathStep struct {
	Tag   string `json:"tag"`
	Index int    `json:"index"`
}

// ElementDescriptor is a serializable, multi-attribute fingerprint of a page
// element captured by the picker. Empty fields mean "not captured".
type ElementDescriptor struct {
	TagName        string            `json:"tagName"`
	TextContent    string            `json:"textContent,omitempty"`
	AriaLabel      string            `json:"ariaLabel,omitempty"`
	Role           string            `json:"role,omitempty"`
	Placeholder    string            `json:"placeholder,omitempty"`
	Type           string            `json:"type,omitempty"`
	DataAttributes map[string]string `json:"dataAttributes,omitempty"`
	NthChildPath   []PathStep        `json:"nthChildPath,omitempty"`
	DisplayLabel   string            `json:"displayLabel,omitempty"`
}

// IsZero reports whether the descriptor carries no matching signal.
func (d ElementDescriptor) IsZero() bool {
	return d.TagName == "" && d.TextContent == "" && d.AriaLabel == "" &&
		d.Role == "" && d.Placeholder == "" && d.Type == "" &&
		len(d.DataAttributes) == 0 && len(d.NthChildPath) == 0
}

// PickedElements maps roles to the descriptors the user taught.
type PickedElements map[ElementRole]ElementDescriptor
