package packet

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(ssrc uint32) ReceptionReport {
	return ReceptionReport{
		SSRC:             ssrc,
		FractionLost:     25,
		CumulativeLost:   -3,
		HighestSeqNum:    0x00010005,
		Jitter:           120,
		LastSR:           0xAABBCCDD,
		DelaySinceLastSR: 65536,
	}
}

func sampleControlPackets() map[string]ControlPacket {
	sr := NewSenderReport(0x45, 0x0102030405060708, 160, 10, 1600)
	sr.AddReceptionReport(sampleReport(0x46))

	srExt := NewSenderReport(0x45, 1, 2, 3, 4)
	srExt.ProfileExtension = []byte{1, 2, 3, 4}

	rr := NewReceiverReport(0x45)
	rr.AddReceptionReport(sampleReport(0x46))
	rr.AddReceptionReport(sampleReport(0x47))

	sdes := NewSourceDescription(0x45, "user@host")
	sdes.AddChunk(0x46,
		SDESItem{Type: SDESCNAME, Text: "other@host"},
		SDESItem{Type: SDESTool, Text: "rtp_stack"},
		SDESItem{Type: SDESNote, Text: ""},
	)

	app, _ := NewAppData(3, 0x45, "TEST", []byte{1, 2, 3, 4, 5, 6, 7, 8})

	return map[string]ControlPacket{
		"SR":             sr,
		"SR extension":   srExt,
		"SR без блоков":  NewSenderReport(0x45, 0, 0, 0, 0),
		"RR":             rr,
		"RR без блоков":  NewReceiverReport(0x45),
		"SDES":           sdes,
		"SDES без chunk": &SourceDescription{},
		"BYE":            NewBye("", 0x45),
		"BYE с причиной": NewBye("session ended", 0x45, 0x46),
		"APP":            app,
		"APP без данных": &AppData{Subtype: 0, SSRC: 1, Name: [4]byte{'n', 'a', 'm', 'e'}},
		"unknown XR":     &UnknownControlPacket{Count: 0, PacketType: 207, Body: []byte{0, 0, 0, 0x45}},
		"unknown пустой": &UnknownControlPacket{Count: 1, PacketType: 205},
	}
}

func TestControlPacketRoundTrip(t *testing.T) {
	for name, p := range sampleControlPackets() {
		t.Run(name, func(t *testing.T) {
			data, err := EncodeControlPacket(p)
			require.NoError(t, err)
			require.Zero(t, len(data)%4, "RTCP пакет должен быть выровнен")

			decoded, n, err := DecodeControlPacket(data)
			require.NoError(t, err)
			assert.Equal(t, len(data), n)
			assert.Equal(t, p, decoded)
			assert.Equal(t, p.Type(), decoded.Type())
		})
	}
}

func TestSenderReportWireLayout(t *testing.T) {
	sr := NewSenderReport(0x45, 0, 0, 0, 0)
	sr.AddReceptionReport(ReceptionReport{SSRC: 1, FractionLost: 0xFF, CumulativeLost: -1})

	data, err := sr.Marshal()
	require.NoError(t, err)
	require.Len(t, data, 52)

	assert.Equal(t, byte(0x81), data[0]) // V=2, RC=1
	assert.Equal(t, byte(200), data[1])
	assert.Equal(t, []byte{0x00, 0x0C}, data[2:4]) // 13 слов минус один
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, data[32:36])
}

func TestSDESPadding(t *testing.T) {
	// 4 (SSRC) + 2 + 1 ("a") + 1 (END) = 8, без добавочного выравнивания
	sdes := NewSourceDescription(1, "a")
	data, err := sdes.Marshal()
	require.NoError(t, err)
	assert.Len(t, data, 12)

	// 4 + 2 + 2 + 1 = 9 -> 12
	sdes = NewSourceDescription(1, "ab")
	data, err = sdes.Marshal()
	require.NoError(t, err)
	assert.Len(t, data, 16)
	assert.Equal(t, []byte{0, 0, 0}, data[13:16])
}

func TestDecodeControlPacketWithPadding(t *testing.T) {
	bye := NewBye("", 0x45)
	data, err := bye.Marshal()
	require.NoError(t, err)

	// Добавляем 4 байта padding и выставляем P
	padded := append(append([]byte(nil), data...), 0, 0, 0, 4)
	padded[0] |= 0x20
	padded[3] = 2

	decoded, n, err := DecodeControlPacket(padded)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, bye, decoded)
}

func TestDecodeControlPacketErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "короткий заголовок", data: []byte{0x80, 200}, want: ErrTooShort},
		{name: "неизвестная версия", data: []byte{0xC0, 200, 0, 0}, want: ErrUnknownVersion},
		{name: "версия 1", data: []byte{0x40, 200, 0, 0}, want: ErrUnsupportedVersion},
		{name: "длина больше буфера", data: []byte{0x80, 201, 0, 5, 0, 0, 0, 1}, want: ErrTooShort},
		{name: "SR без sender info", data: []byte{0x80, 200, 0, 1, 0, 0, 0, 1}, want: ErrTooShort},
		{name: "RR с недостающим блоком", data: []byte{0x81, 201, 0, 1, 0, 0, 0, 1}, want: ErrTooShort},
		{name: "SDES без завершения", data: []byte{0x81, 202, 0, 2, 0, 0, 0, 1, 1, 2, 'a', 'b'}, want: ErrInvalidLength},
		{name: "SDES текст за границей", data: []byte{0x81, 202, 0, 2, 0, 0, 0, 1, 1, 9, 'a', 'b'}, want: ErrTooShort},
		{name: "BYE без источника", data: []byte{0x81, 203, 0, 0}, want: ErrTooShort},
		{name: "BYE причина за границей", data: []byte{0x81, 203, 0, 2, 0, 0, 0, 1, 9, 'a', 'b', 'c'}, want: ErrTooShort},
		{name: "APP без имени", data: []byte{0x80, 204, 0, 1, 0, 0, 0, 1}, want: ErrTooShort},
		{name: "padding больше тела", data: []byte{0xA0, 201, 0, 1, 0, 0, 0, 9}, want: ErrInvalidPadding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeControlPacket(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "ожидалась %v, получено %v", tt.want, err)
		})
	}
}

func TestControlPacketEncodeLimits(t *testing.T) {
	rr := NewReceiverReport(1)
	for i := 0; i < 32; i++ {
		rr.AddReceptionReport(ReceptionReport{SSRC: uint32(i)})
	}
	_, err := rr.Marshal()
	assert.True(t, errors.Is(err, ErrFieldOverflow))

	sr := NewSenderReport(1, 0, 0, 0, 0)
	sr.AddReceptionReport(ReceptionReport{CumulativeLost: 1 << 23})
	_, err = sr.Marshal()
	assert.True(t, errors.Is(err, ErrFieldOverflow))

	long := make([]byte, 256)
	_, err = NewSourceDescription(1, string(long)).Marshal()
	assert.True(t, errors.Is(err, ErrFieldOverflow))

	_, err = NewBye(string(long), 1).Marshal()
	assert.True(t, errors.Is(err, ErrFieldOverflow))

	_, err = NewAppData(0, 1, "TOOLONG", nil)
	assert.True(t, errors.Is(err, ErrFieldOverflow))

	app, err := NewAppData(0, 1, "NAME", []byte{1, 2})
	require.NoError(t, err)
	_, err = app.Marshal()
	assert.True(t, errors.Is(err, ErrFieldOverflow))

	_, err = EncodeControlPacket(nil)
	assert.True(t, errors.Is(err, ErrNilControlPacket))
}

func TestEncodingReadableByPionRTCP(t *testing.T) {
	sr := NewSenderReport(0x45, 0x0102030405060708, 160, 10, 1600)
	sr.AddReceptionReport(ReceptionReport{SSRC: 0x46, FractionLost: 10, CumulativeLost: 5, HighestSeqNum: 100, Jitter: 7})
	sdes := NewSourceDescription(0x45, "user@host")
	bye := NewBye("bye", 0x45)

	compound, err := NewCompoundControlPacket(sr, sdes, bye)
	require.NoError(t, err)
	data, err := compound.Encode()
	require.NoError(t, err)

	packets, err := rtcp.Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, packets, 3)

	pionSR, ok := packets[0].(*rtcp.SenderReport)
	require.True(t, ok)
	assert.Equal(t, uint32(0x45), pionSR.SSRC)
	assert.Equal(t, uint64(0x0102030405060708), pionSR.NTPTime)
	assert.Equal(t, uint32(1600), pionSR.OctetCount)
	require.Len(t, pionSR.Reports, 1)
	assert.Equal(t, uint32(5), pionSR.Reports[0].TotalLost)
	assert.Equal(t, uint8(10), pionSR.Reports[0].FractionLost)

	pionSDES, ok := packets[1].(*rtcp.SourceDescription)
	require.True(t, ok)
	require.Len(t, pionSDES.Chunks, 1)
	assert.Equal(t, "user@host", pionSDES.Chunks[0].Items[0].Text)

	pionBye, ok := packets[2].(*rtcp.Goodbye)
	require.True(t, ok)
	assert.Equal(t, []uint32{0x45}, pionBye.Sources)
	assert.Equal(t, "bye", pionBye.Reason)
}

func TestDecodePionRTCP(t *testing.T) {
	rr := &rtcp.ReceiverReport{
		SSRC: 0x45,
		Reports: []rtcp.ReceptionReport{{
			SSRC:               0x46,
			FractionLost:       1,
			TotalLost:          2,
			LastSequenceNumber: 3,
			Jitter:             4,
			LastSenderReport:   5,
			Delay:              6,
		}},
	}
	pli := &rtcp.PictureLossIndication{SenderSSRC: 0x45, MediaSSRC: 0x46}

	data, err := rtcp.Marshal([]rtcp.Packet{rr, pli})
	require.NoError(t, err)

	compound, err := DecodeCompound(data)
	require.NoError(t, err)
	require.Equal(t, 2, compound.PacketCount())

	ourRR, ok := compound.Packets()[0].(*ReceiverReport)
	require.True(t, ok)
	assert.Equal(t, []ReceptionReport{{
		SSRC:             0x46,
		FractionLost:     1,
		CumulativeLost:   2,
		HighestSeqNum:    3,
		Jitter:           4,
		LastSR:           5,
		DelaySinceLastSR: 6,
	}}, ourRR.Reports)

	// PLI (PSFB, тип 206) сохраняется как неизвестный пакет
	unknown, ok := compound.Packets()[1].(*UnknownControlPacket)
	require.True(t, ok)
	assert.Equal(t, ControlPacketType(206), unknown.PacketType)

	again, err := compound.Encode()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestIsControlPacket(t *testing.T) {
	sr, err := NewSenderReport(1, 0, 0, 0, 0).Marshal()
	require.NoError(t, err)
	assert.True(t, IsControlPacket(sr))

	data, err := NewDataPacket(1, 0, 0, 0, []byte{1}).Encode()
	require.NoError(t, err)
	assert.False(t, IsControlPacket(data))

	assert.False(t, IsControlPacket([]byte{0x80}))
	assert.False(t, IsControlPacket([]byte{0x40, 200, 0, 0}))
}

func TestControlPacketTypeString(t *testing.T) {
	assert.Equal(t, "SR", TypeSenderReport.String())
	assert.Equal(t, "BYE", TypeBye.String())
	assert.Equal(t, "RTCP(207)", ControlPacketType(207).String())
	assert.True(t, TypeAppData.Known())
	assert.False(t, ControlPacketType(206).Known())
	assert.Equal(t, "CNAME", SDESCNAME.String())
}

func TestTiming(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 500000000, time.UTC)
	ntp := NTPTimestamp(now)
	back := NTPTimestampToTime(ntp)
	assert.WithinDuration(t, now, back, time.Microsecond)
	assert.Equal(t, uint32(ntp>>16), MiddleNTP(ntp))

	assert.Equal(t, uint8(0), CalculateFractionLost(0, 0))
	assert.Equal(t, uint8(64), CalculateFractionLost(100, 75))
	assert.Equal(t, uint8(0), CalculateFractionLost(100, 120))

	assert.InDelta(t, 1.0, CalculateJitter(16, 0, 0), 0.0001)
	// Переход transit через границу int32 дает разность 16, а не 2^32-16
	assert.InDelta(t, 1.0, CalculateJitter(math.MinInt32+7, math.MaxInt32-8, 0), 0.0001)
}

// Пустые списки в RTCP пакетах декодируются как nil, конструкторы дают то же самое
func TestControlPacketEmptySlicesAreNil(t *testing.T) {
	app, err := NewAppData(1, 0x45, "TEST", []byte{})
	require.NoError(t, err)
	assert.Nil(t, app.Data)

	bye := NewBye("", []uint32{}...)
	assert.Nil(t, bye.Sources)

	packets := map[string]struct {
		empty     ControlPacket
		canonical ControlPacket
	}{
		"SR": {
			empty:     &SenderReport{SSRC: 0x45, Reports: []ReceptionReport{}, ProfileExtension: []byte{}},
			canonical: NewSenderReport(0x45, 0, 0, 0, 0),
		},
		"RR": {
			empty:     &ReceiverReport{SSRC: 0x45, Reports: []ReceptionReport{}, ProfileExtension: []byte{}},
			canonical: NewReceiverReport(0x45),
		},
		"BYE": {
			empty:     &Bye{Sources: []uint32{}},
			canonical: bye,
		},
		"APP": {
			empty:     &AppData{Subtype: 1, SSRC: 0x45, Name: app.Name, Data: []byte{}},
			canonical: app,
		},
	}

	for name, tc := range packets {
		t.Run(name, func(t *testing.T) {
			data, err := EncodeControlPacket(tc.empty)
			require.NoError(t, err)

			decoded, _, err := DecodeControlPacket(data)
			require.NoError(t, err)
			assert.Equal(t, tc.canonical, decoded)
		})
	}
}
