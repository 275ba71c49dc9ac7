package main

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pion/randutil"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/arzzra/rtp_stack/pkg/packet"
	"github.com/arzzra/rtp_stack/pkg/participant"
	"github.com/arzzra/rtp_stack/pkg/session"
)

const (
	payloadPCMU   = 0
	samplesPer20m = 160
	pcmuSilence   = 0xFF
)

func main() {
	flag.Parse()
	if flagHelp {
		help()
		os.Exit(0)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flagVerbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	remotes, err := remoteParticipants()
	if err != nil {
		logger.WithError(err).Fatal("Некорректные участники")
	}

	config := session.DefaultConfig(localCNAME())
	config.Host = flagHost
	config.DataPort = flagDataPort
	config.ControlPort = flagControlPort
	if config.ControlPort == 0 && config.DataPort != 0 {
		config.ControlPort = config.DataPort + 1
	}
	config.NonBlockingIO = flagNIO
	config.AutomatedRTCPHandling = flagRTCP
	config.SendByeOnTerminate = true
	config.CleanupInterval = 5 * time.Second
	config.Logger = logger
	config.EventListener = newEventPrinter()
	config.DataReceiver = session.DataReceiverFunc(func(_ *session.Session, from *participant.Participant, pkt *packet.DataPacket) {
		logger.WithFields(logrus.Fields{
			"from": from.String(),
			"seq":  pkt.SequenceNumber,
			"ts":   pkt.Timestamp,
			"size": len(pkt.Payload),
		}).Debug("RTP")
	})

	if flagMulti {
		config.Mode = session.ModeMultiPeer
	} else {
		if len(remotes) == 0 {
			logger.Fatal("Для режима single peer нужен --peer или --sdp")
		}
		config.Mode = session.ModeSinglePeer
		config.Peer = remotes[0]
		if len(remotes) > 1 {
			logger.WithField("ignored", len(remotes)-1).Warn("В режиме single peer используется только первый участник")
		}
		remotes = nil
	}

	s, err := session.New(config)
	if err != nil {
		logger.WithError(err).Fatal("Ошибка создания сессии")
	}
	if !s.Init() {
		logger.Fatal("Не удалось запустить сессию")
	}
	defer s.Terminate()

	for _, p := range remotes {
		if !s.AddReceiver(p) {
			logger.WithField("participant", p.String()).Warn("Участник не добавлен")
		}
	}

	color.New(color.FgGreen).Printf("Сессия %s: RTP %s, RTCP %s\n", s.ID(), s.DataAddress(), s.ControlAddress())

	if flagMetrics != "" {
		go serveMetrics(s, logger)
	}

	stop := make(chan struct{})
	if flagSend {
		go sendSilence(s, logger, stop)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	close(stop)
	logger.Info("Завершение сессии")
}

// remoteParticipants собирает участников из --peer и --sdp
func remoteParticipants() ([]*participant.Participant, error) {
	var remotes []*participant.Participant

	for _, peer := range flagPeers {
		p, err := parsePeer(peer)
		if err != nil {
			return nil, err
		}
		remotes = append(remotes, p)
	}

	if flagSDP != "" {
		raw, err := os.ReadFile(flagSDP)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read SDP")
		}
		infos, err := participant.InfoFromSDP(raw)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			remotes = append(remotes, participant.NewFromInfo(info))
		}
	}
	return remotes, nil
}

// parsePeer разбирает HOST:PORT или HOST:PORT/RTCP
func parsePeer(value string) (*participant.Participant, error) {
	address, rtcp, hasRTCP := strings.Cut(value, "/")

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, errors.Wrapf(err, "peer %q", value)
	}
	dataPort, err := strconv.Atoi(portStr)
	if err != nil || dataPort <= 0 || dataPort > 65535 {
		return nil, errors.Errorf("peer %q: invalid port", value)
	}

	controlPort := dataPort + 1
	if hasRTCP {
		controlPort, err = strconv.Atoi(rtcp)
		if err != nil || controlPort <= 0 || controlPort > 65535 {
			return nil, errors.Errorf("peer %q: invalid control port", value)
		}
	}
	return participant.NewReceiver(host, dataPort, controlPort), nil
}

func localCNAME() string {
	if flagCNAME != "" {
		return flagCNAME
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "rtp"
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return user + "@" + host
}

// sendSilence отправляет пакеты PCMU тишины каждые 20 мс
func sendSilence(s *session.Session, logger *logrus.Logger, stop <-chan struct{}) {
	rng := randutil.NewMathRandomGenerator()
	seq := uint16(rng.Uint32())
	ts := rng.Uint32()

	payload := make([]byte, samplesPer20m)
	for i := range payload {
		payload[i] = pcmuSilence
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pkt := packet.NewDataPacket(0, payloadPCMU, seq, ts, payload)
			if err := s.SendDataPacket(pkt); err != nil {
				logger.WithError(err).Debug("Ошибка отправки RTP")
			}
			seq++
			ts += samplesPer20m
		}
	}
}

func serveMetrics(s *session.Session, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.MetricsGatherer(), promhttp.HandlerOpts{}))

	logger.WithField("addr", flagMetrics).Info("Метрики доступны на /metrics")
	if err := http.ListenAndServe(flagMetrics, mux); err != nil {
		logger.WithError(err).Error("Сервер метрик остановлен")
	}
}
