package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagHost        string
	flagDataPort    int
	flagControlPort int
	flagPeers       []string
	flagSDP         string
	flagMulti       bool
	flagCNAME       string
	flagNIO         bool
	flagSend        bool
	flagRTCP        bool
	flagMetrics     string
	flagVerbose     bool
	flagHelp        bool
)

func init() {
	flag.StringVarP(&flagHost, "host", "H", "0.0.0.0", "Local address to bind")
	flag.IntVarP(&flagDataPort, "data-port", "d", 5004, "Local RTP port")
	flag.IntVarP(&flagControlPort, "control-port", "c", 0, "Local RTCP port (default: data port + 1)")
	flag.StringSliceVarP(&flagPeers, "peer", "p", nil, "Remote participant host:port[/control-port]")
	flag.StringVarP(&flagSDP, "sdp", "s", "", "Read remote participants from SDP file")
	flag.BoolVarP(&flagMulti, "multi", "m", false, "Multi peer mode")
	flag.StringVarP(&flagCNAME, "cname", "n", "", "Local CNAME (default: user@hostname)")
	flag.BoolVarP(&flagNIO, "nio", "", false, "Process datagrams in a worker pool")
	flag.BoolVarP(&flagSend, "send", "", false, "Send 20ms PCMU silence to receivers")
	flag.BoolVarP(&flagRTCP, "rtcp", "", true, "Send RTCP reports automatically")
	flag.StringVarP(&flagMetrics, "metrics", "", "", "Serve Prometheus metrics on address")
	flag.BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

const helpString = `RTP/RTCP peer

Usage: rtp_peer [OPTION]...

Network:
  -H, --host=ADDR          Local address to bind (default: 0.0.0.0)
  -d, --data-port=NUM      Local RTP port (default: 5004)
  -c, --control-port=NUM   Local RTCP port (default: data port + 1)
      --nio                Process datagrams in a worker pool

Participants:
  -p, --peer=HOST:PORT     Remote participant, RTCP on PORT+1 unless
                           given as HOST:PORT/RTCP; repeatable
  -s, --sdp=FILE           Read remote participants from SDP
  -m, --multi              Multi peer mode (default: single peer)
  -n, --cname=NAME         Local CNAME (default: user@hostname)

Traffic:
      --send               Send 20ms PCMU silence to receivers
      --rtcp               Send RTCP reports automatically (default: true)
      --metrics=ADDR       Serve Prometheus metrics on ADDR

Miscellaneous:
  -v, --verbose            Debug logging
  -h, --help               Print this help message and exit`

func help() {
	color.New(color.FgCyan, color.Bold).Fprintln(os.Stderr, "rtp_peer")
	fmt.Fprintln(os.Stderr, helpString)
}
