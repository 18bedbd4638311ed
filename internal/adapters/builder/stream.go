package builder

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/quaylabs/slipway/internal/core/domain"
)

// buildMessage mirrors the engine's JSON build stream frames. Only the
// fields we act on are decoded.
type buildMessage struct {
	Stream      string `json:"stream,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorDetail struct {
		Message string `json:"message,omitempty"`
	} `json:"errorDetail,omitempty"`
	Aux *struct {
		ID string `json:"ID,omitempty"`
	} `json:"aux,omitempty"`
}

var stepRe = regexp.MustCompile(`^Step \d+/\d+ : (.+)$`)

// decodeBuildStream consumes the engine's build output until EOF or the
// first error frame. It tracks the directive currently executing so a
// failure can be attributed to the step that caused it, and captures the
// built image ID from the aux frame on success.
func decodeBuildStream(r io.Reader, sink io.Writer) (string, error) {
	dec := json.NewDecoder(r)
	var (
		imageID  string
		lastStep string
	)
	for {
		var msg buildMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", &domain.BuildError{Step: lastStep, Detail: err.Error(), Cause: domain.ErrBuildFailed}
		}
		if msg.Stream != "" {
			if sink != nil {
				io.WriteString(sink, msg.Stream)
			}
			if m := stepRe.FindStringSubmatch(strings.TrimSpace(msg.Stream)); m != nil {
				lastStep = m[1]
			}
		}
		if msg.Aux != nil && msg.Aux.ID != "" {
			imageID = msg.Aux.ID
		}
		if msg.Error != "" {
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.Error
			}
			return "", classifyStepFailure(lastStep, detail)
		}
	}
	return imageID, nil
}

// classifyStepFailure maps a failed directive onto the build error taxonomy:
// FROM resolution, dependency install, browser provisioning, or unclassified.
func classifyStepFailure(step, detail string) *domain.BuildError {
	be := &domain.BuildError{Step: step, Detail: detail, Cause: domain.ErrBuildFailed}
	lowStep := strings.ToLower(step)
	lowDetail := strings.ToLower(detail)
	switch {
	case strings.HasPrefix(lowStep, "from "),
		strings.Contains(lowDetail, "manifest unknown"),
		strings.Contains(lowDetail, "pull access denied"),
		strings.Contains(lowDetail, "manifest for"),
		strings.Contains(lowDetail, "no such image"):
		be.Cause = domain.ErrBaseImageUnresolvable
	case strings.Contains(lowStep, "pip install"):
		be.Cause = domain.ErrDependencyInstall
	case strings.Contains(lowStep, "playwright install"):
		be.Cause = domain.ErrBrowserProvision
	}
	return be
}
