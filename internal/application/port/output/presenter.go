package output

// Presenter renders command results. The CLI picks an implementation from
// the --output flag.
type Presenter interface {
	// PresentSuccess renders data, preceded by message when it is not empty
	PresentSuccess(message string, data interface{}) error

	// PresentError renders err and returns it unchanged
	PresentError(err error) error
}
