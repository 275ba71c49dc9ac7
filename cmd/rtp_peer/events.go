package main

import (
	"github.com/fatih/color"

	"github.com/arzzra/rtp_stack/pkg/participant"
	"github.com/arzzra/rtp_stack/pkg/session"
)

// eventPrinter печатает события участников в терминал
type eventPrinter struct {
	joined  *color.Color
	updated *color.Color
	left    *color.Color
	warning *color.Color
}

func newEventPrinter() *eventPrinter {
	return &eventPrinter{
		joined:  color.New(color.FgGreen),
		updated: color.New(color.FgCyan),
		left:    color.New(color.FgYellow),
		warning: color.New(color.FgRed, color.Bold),
	}
}

func (e *eventPrinter) ParticipantJoinedFromData(_ *session.Session, p *participant.Participant) {
	e.joined.Printf("+ %s (RTP с %s)\n", p, p.LastDataOrigin())
}

func (e *eventPrinter) ParticipantJoinedFromControl(_ *session.Session, p *participant.Participant) {
	e.joined.Printf("+ %s (RTCP с %s)\n", p, p.LastControlOrigin())
}

func (e *eventPrinter) ParticipantDataUpdated(_ *session.Session, p *participant.Participant) {
	e.updated.Printf("~ %s\n", p)
}

func (e *eventPrinter) ParticipantLeft(_ *session.Session, p *participant.Participant) {
	e.left.Printf("- %s (BYE)\n", p)
}

func (e *eventPrinter) ParticipantDeleted(_ *session.Session, p *participant.Participant) {
	e.left.Printf("x %s\n", p)
}

func (e *eventPrinter) ResolvedSSRCConflict(_ *session.Session, oldSSRC, newSSRC uint32) {
	e.warning.Printf("! конфликт SSRC: %08x -> %08x\n", oldSSRC, newSSRC)
}

func (e *eventPrinter) SessionTerminated(s *session.Session, cause error) {
	if cause != nil {
		e.warning.Printf("Сессия %s завершена: %v\n", s.ID(), cause)
		return
	}
	color.New(color.FgGreen).Printf("Сессия %s завершена\n", s.ID())
}
