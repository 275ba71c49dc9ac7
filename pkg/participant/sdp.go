package participant

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

// ErrNoMedia SDP не содержит ни одного активного медиа потока
var ErrNoMedia = errors.New("no active media in SDP")

// InfoFromSDP извлекает описания удаленных участников из SDP.
//
// Для каждого медиа потока с ненулевым портом берется адрес из c= (медиа или
// сессии, иначе из o=), порт RTP из m=, порт RTCP из a=rtcp, a=rtcp-mux
// или порт RTP + 1. Каждый a=ssrc дает отдельный Info с CNAME; поток без
// a=ssrc дает Info с неизвестным SSRC.
func InfoFromSDP(raw []byte) ([]Info, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse SDP")
	}

	var result []Info
	for _, media := range desc.MediaDescriptions {
		port := media.MediaName.Port.Value
		if port == 0 {
			continue
		}

		host := mediaHost(media, &desc)
		controlHost := host
		controlPort := port + 1
		if _, mux := media.Attribute("rtcp-mux"); mux {
			controlPort = port
		}
		if value, ok := media.Attribute("rtcp"); ok {
			p, addr, err := parseRTCPAttribute(value)
			if err != nil {
				return nil, err
			}
			controlPort = p
			if addr != "" {
				controlHost = addr
			}
		}

		base := Info{
			DataAddress:    NewAddress(host, port),
			ControlAddress: NewAddress(controlHost, controlPort),
		}

		sources, err := parseSSRCAttributes(media.Attributes)
		if err != nil {
			return nil, err
		}
		if len(sources) == 0 {
			result = append(result, base)
			continue
		}
		for _, src := range sources {
			info := base
			info.SSRC = src.ssrc
			info.HasSSRC = true
			info.CNAME = src.cname
			result = append(result, info)
		}
	}

	if len(result) == 0 {
		return nil, ErrNoMedia
	}
	return result, nil
}

func mediaHost(media *sdp.MediaDescription, desc *sdp.SessionDescription) string {
	if media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil {
		return media.ConnectionInformation.Address.Address
	}
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		return desc.ConnectionInformation.Address.Address
	}
	return desc.Origin.UnicastAddress
}

// parseRTCPAttribute разбирает a=rtcp:<port> [IN IP4 <addr>] (RFC 3605)
func parseRTCPAttribute(value string) (int, string, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, "", errors.New("empty rtcp attribute")
	}
	port, err := strconv.Atoi(fields[0])
	if err != nil || port <= 0 || port > 65535 {
		return 0, "", errors.Errorf("invalid rtcp port %q", fields[0])
	}
	if len(fields) >= 4 {
		return port, fields[3], nil
	}
	return port, "", nil
}

type sdpSource struct {
	ssrc  uint32
	cname string
}

// parseSSRCAttributes собирает a=ssrc:<id> <attr>[:<value>] (RFC 5576) в порядке появления
func parseSSRCAttributes(attributes []sdp.Attribute) ([]sdpSource, error) {
	var sources []sdpSource
	index := make(map[uint32]int)

	for _, attr := range attributes {
		if attr.Key != "ssrc" {
			continue
		}
		idText, rest, _ := strings.Cut(attr.Value, " ")
		id, err := strconv.ParseUint(idText, 10, 32)
		if err != nil {
			return nil, errors.Errorf("invalid ssrc attribute %q", attr.Value)
		}
		ssrc := uint32(id)

		i, ok := index[ssrc]
		if !ok {
			i = len(sources)
			index[ssrc] = i
			sources = append(sources, sdpSource{ssrc: ssrc})
		}
		if name, value, found := strings.Cut(rest, ":"); found && name == "cname" {
			sources[i].cname = value
		}
	}
	return sources, nil
}
