package ui

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner wraps the spinner library for consistent styling.
type Spinner struct {
	s       *spinner.Spinner
	message string
}

// NewSpinner creates a new spinner with the given message.
func NewSpinner(message string) *Spinner {
	charSet := spinner.CharSets[14] // ⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏
	if !UseUnicode {
		charSet = spinner.CharSets[9] // |/-\
	}

	s := spinner.New(charSet, 100*time.Millisecond, spinner.WithWriter(Output))
	s.Suffix = " " + message

	if UseColors {
		s.Color("cyan")
	}

	return &Spinner{s: s, message: message}
}

// Start starts the spinner.
func (sp *Spinner) Start() {
	sp.s.Start()
}

// Stop stops the spinner.
func (sp *Spinner) Stop() {
	sp.s.Stop()
}

// Success stops the spinner with a success message.
func (sp *Spinner) Success(message string) {
	sp.s.Stop()
	SuccessMsg("%s", message)
}

// Error stops the spinner with an error message.
func (sp *Spinner) Error(message string) {
	sp.s.Stop()
	ErrorMsg("%s", message)
}

// UpdateMessage updates the spinner message.
func (sp *Spinner) UpdateMessage(message string) {
	sp.s.Lock()
	sp.s.Suffix = " " + message
	sp.s.Unlock()
}

// Progress shows a transaction step next to the original message.
func (sp *Spinner) Progress(step, detail string) {
	sp.UpdateMessage(fmt.Sprintf("%s [%s] %s", sp.message, step, detail))
}

// WithSpinner runs a function with a spinner, showing success or error on completion.
func WithSpinner(message string, fn func(sp *Spinner) error) error {
	sp := NewSpinner(message)
	sp.Start()

	err := fn(sp)

	if err != nil {
		sp.Stop()
		return err
	}

	sp.Success(message + " - done")
	return nil
}
