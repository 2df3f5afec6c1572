package spooler

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompt is the text of the consent dialog.
type Prompt struct {
	Title      string `yaml:"title"`
	Message    string `yaml:"message"`
	Decline    string `yaml:"decline"`
	AlwaysSend string `yaml:"always"`
	Send       string `yaml:"accept"`
}

// DefaultPrompt returns the built-in English dialog text.
func DefaultPrompt() Prompt {
	return Prompt{
		Title:      "Crash Data",
		Message:    "The application crashed recently. Do you want to send anonymous crash data to the developers?",
		Decline:    "Don't send",
		AlwaysSend: "Always send",
		Send:       "Send",
	}
}

func (p Prompt) withDefaults() Prompt {
	d := DefaultPrompt()
	if p.Title == "" {
		p.Title = d.Title
	}
	if p.Message == "" {
		p.Message = d.Message
	}
	if p.Decline == "" {
		p.Decline = d.Decline
	}
	if p.AlwaysSend == "" {
		p.AlwaysSend = d.AlwaysSend
	}
	if p.Send == "" {
		p.Send = d.Send
	}
	return p
}

// DialogCallbacks are the outcomes of the consent dialog. OnDismiss means
// nobody answered; it leaves the records alone.
type DialogCallbacks struct {
	OnDecline    func()
	OnAlwaysSend func()
	OnSend       func()
	OnDismiss    func()
}

func (cb DialogCallbacks) dismiss() {
	if cb.OnDismiss != nil {
		cb.OnDismiss()
	}
}

// Dialog presents the consent prompt. Implementations call exactly one of
// the callbacks once, possibly after Show has returned.
type Dialog interface {
	Show(p Prompt, cb DialogCallbacks)
}

// ConsoleDialog asks on a terminal. End of input dismisses the prompt, so an
// unattended run never deletes records.
type ConsoleDialog struct {
	In  io.Reader
	Out io.Writer
}

func (d ConsoleDialog) Show(p Prompt, cb DialogCallbacks) {
	fmt.Fprintf(d.Out, "%s\n\n%s\n", p.Title, p.Message)
	sc := bufio.NewScanner(d.In)
	for {
		fmt.Fprintf(d.Out, "[d] %s  [a] %s  [s] %s: ", p.Decline, p.AlwaysSend, p.Send)
		if !sc.Scan() {
			fmt.Fprintln(d.Out)
			cb.dismiss()
			return
		}
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "d", "n", "no":
			cb.OnDecline()
			return
		case "a", "always":
			cb.OnAlwaysSend()
			return
		case "s", "y", "yes":
			cb.OnSend()
			return
		}
	}
}
