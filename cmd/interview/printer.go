package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/interview-voice-lab/internal/session"
)

// errSessionEnded stops the CLI once a connected session has closed.
var errSessionEnded = errors.New("session ended")

// printer renders snapshots as a running transcript.
type printer struct {
	w          io.Writer
	printed    int
	inProgress string
	status     session.Status
	connected  bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, status: session.StatusIdle}
}

// render writes whatever changed since the previous snapshot. Once a session
// that was connected has closed it returns the session error, or
// errSessionEnded when the session closed cleanly.
func (p *printer) render(s session.Snapshot) error {
	if s.Status != p.status {
		fmt.Fprintf(p.w, "-- %s\n", s.Status)
		p.status = s.Status
	}
	if s.Connected {
		p.connected = true
	}
	for _, e := range s.Transcripts[min(p.printed, len(s.Transcripts)):] {
		fmt.Fprintf(p.w, "[%s] %s\n", e.Role, e.Text)
	}
	p.printed = max(p.printed, len(s.Transcripts))
	if s.InProgress != p.inProgress {
		if s.InProgress != "" {
			fmt.Fprintf(p.w, "   ... %s\n", s.InProgress)
		}
		p.inProgress = s.InProgress
	}
	if s.Status == session.StatusClosed && p.connected {
		if s.Err != nil {
			fmt.Fprintf(p.w, "-- error: %v\n", s.Err)
			return s.Err
		}
		return errSessionEnded
	}
	return nil
}
