package util

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
)

// UISpinner wraps spinner for terminal progress output. With plain set it
// degrades to one line per message, which keeps logs readable when stdout is
// not a terminal.
type UISpinner struct {
	sp    *spinner.Spinner
	plain bool
}

// NewUISpinner starts a spinner with the given message
func NewUISpinner(plain bool, message string) *UISpinner {
	s := &UISpinner{plain: plain}

	if plain {
		fmt.Printf("%s\n", message)
		return s
	}

	s.sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.sp.Prefix = "  "
	s.sp.Suffix = " " + message
	s.sp.Start()
	return s
}

// Success stops the spinner and prints a success message
func (s *UISpinner) Success(message string) {
	s.finish("✓", message)
}

// Fail stops the spinner and prints an error message
func (s *UISpinner) Fail(message string) {
	s.finish("✗", message)
}

func (s *UISpinner) finish(mark, message string) {
	if s.plain {
		fmt.Printf("%s %s\n", mark, message)
		return
	}
	s.sp.Stop()
	fmt.Printf("\r\033[K  %s %s\n", mark, message) // \033[K clears the line
}
