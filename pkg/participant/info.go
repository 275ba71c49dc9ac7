package participant

import (
	"fmt"
	"net"

	"github.com/arzzra/rtp_stack/pkg/packet"
)

// Info идентичность удаленного участника: SSRC, описание из SDES и адреса.
// SSRC - первичный ключ внутри сессии.
type Info struct {
	SSRC    uint32
	HasSSRC bool // false пока SSRC не получен из первого пакета

	// Описание источника согласно RFC 3550 Section 6.5
	CNAME    string
	Name     string
	Email    string
	Phone    string
	Location string
	Tool     string
	Note     string
	Priv     string

	DataAddress    net.Addr // Куда отправлять RTP
	ControlAddress net.Addr // Куда отправлять RTCP
}

// NewInfo создает Info с известным SSRC и CNAME
func NewInfo(ssrc uint32, cname string) Info {
	return Info{SSRC: ssrc, HasSSRC: true, CNAME: cname}
}

// applySDES переносит элементы chunk в описание
func (i *Info) applySDES(chunk packet.SDESChunk) {
	for _, item := range chunk.Items {
		switch item.Type {
		case packet.SDESCNAME:
			i.CNAME = item.Text
		case packet.SDESName:
			i.Name = item.Text
		case packet.SDESEmail:
			i.Email = item.Text
		case packet.SDESPhone:
			i.Phone = item.Text
		case packet.SDESLoc:
			i.Location = item.Text
		case packet.SDESTool:
			i.Tool = item.Text
		case packet.SDESNote:
			i.Note = item.Text
		case packet.SDESPriv:
			i.Priv = item.Text
		}
	}
}

// SDESChunk собирает chunk из непустых полей описания, CNAME первым
func (i Info) SDESChunk() packet.SDESChunk {
	chunk := packet.SDESChunk{SSRC: i.SSRC}
	for _, item := range []packet.SDESItem{
		{Type: packet.SDESCNAME, Text: i.CNAME},
		{Type: packet.SDESName, Text: i.Name},
		{Type: packet.SDESEmail, Text: i.Email},
		{Type: packet.SDESPhone, Text: i.Phone},
		{Type: packet.SDESLoc, Text: i.Location},
		{Type: packet.SDESTool, Text: i.Tool},
		{Type: packet.SDESNote, Text: i.Note},
		{Type: packet.SDESPriv, Text: i.Priv},
	} {
		if item.Text != "" {
			chunk.Items = append(chunk.Items, item)
		}
	}
	return chunk
}

func (i Info) String() string {
	ssrc := "unset"
	if i.HasSSRC {
		ssrc = fmt.Sprintf("0x%08x", i.SSRC)
	}
	return fmt.Sprintf("Info{ssrc=%s cname=%q data=%v control=%v}", ssrc, i.CNAME, i.DataAddress, i.ControlAddress)
}
