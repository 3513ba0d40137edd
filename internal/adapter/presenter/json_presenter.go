package presenter

import (
	"encoding/json"
	"io"

	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
)

// envelope is the single JSON document written per command
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

// JSONPresenter implements output.Presenter for JSON output
type JSONPresenter struct {
	output io.Writer
}

// NewJSONPresenter creates a new JSON presenter
func NewJSONPresenter(output io.Writer) output.Presenter {
	return &JSONPresenter{output: output}
}

// PresentSuccess writes {"success":true,"message":...,"data":...}
func (p *JSONPresenter) PresentSuccess(message string, data interface{}) error {
	return json.NewEncoder(p.output).Encode(envelope{Success: true, Message: message, Data: data})
}

// PresentError writes {"success":false,"data":null,"error":...}. The error is
// returned so callers can still map it to an exit code.
func (p *JSONPresenter) PresentError(err error) error {
	if encErr := json.NewEncoder(p.output).Encode(envelope{Error: err.Error()}); encErr != nil {
		return encErr
	}
	return err
}
