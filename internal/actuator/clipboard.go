package actuator

import (
	"fmt"
	"time"

	"github.com/atotto/clipboard"
)

// Clipboard is the subset of clipboard access the paste fallback needs.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// clipboardSettle gives the clipboard owner time to serve the new content.
var clipboardSettle = 80 * time.Millisecond

// pasteViaClipboard puts text on the clipboard, runs paste and restores the
// previous clipboard content.
func pasteViaClipboard(clip Clipboard, text string, paste func() error) error {
	orig, readErr := clip.ReadAll()
	if err := clip.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	time.Sleep(clipboardSettle)
	pasteErr := paste()
	time.Sleep(clipboardSettle)
	if readErr == nil {
		_ = clip.WriteAll(orig)
	}
	if pasteErr != nil {
		return fmt.Errorf("paste: %w", pasteErr)
	}
	return nil
}
