package client

import (
	"fmt"
	"strings"

	"github.com/richinsley/comfytryon/graphapi"
)

// There may be other DataOutput types.  Text outputs carry their value in Text

type DataOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	Text      string `json:"-"` // for "text" type data output
}

// IsFile reports whether the output refers to a file that can be fetched with GetImage
func (d DataOutput) IsFile() bool {
	return d.Filename != "" && d.Type != "text" && d.Type != "unknown"
}

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	EmbeddedPython bool   `json:"embedded_python"`
	ComfyUIVersion string `json:"comfyui_version,omitempty"`
}

type GPU struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Index            int    `json:"index"`
	VRAM_Total       int64  `json:"vram_total"`
	VRAM_Free        int64  `json:"vram_free"`
	Torch_VRAM_Total int64  `json:"torch_vram_total"`
	Torch_VRAM_Free  int64  `json:"torch_vram_free"`
}

type QueueExecInfo struct {
	ExecInfo struct {
		QueueRemaining int `json:"queue_remaining"`
	} `json:"exec_info"`
}

type PromptHistoryItem struct {
	PromptID string
	Index    int
	Prompt   *graphapi.Prompt
	Outputs  map[string][]DataOutput
}

type PromptError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details"`
	ExtraInfo map[string]interface{} `json:"extra_info"`
}

type PromptNodeError struct {
	Errors []struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"errors"`
	ClassType string `json:"class_type"`
}

type PromptErrorMessage struct {
	Error      PromptError                `json:"error"`
	NodeErrors map[string]PromptNodeError `json:"node_errors"`
}

func (e *PromptErrorMessage) String() string {
	var sb strings.Builder
	sb.WriteString(e.Error.Message)
	if e.Error.Details != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Error.Details)
	}
	for id, ne := range e.NodeErrors {
		for _, ee := range ne.Errors {
			sb.WriteString(fmt.Sprintf("; node %s (%s): %s", id, ne.ClassType, ee.Message))
			if ee.Details != "" {
				sb.WriteString(" ")
				sb.WriteString(ee.Details)
			}
		}
	}
	return sb.String()
}
