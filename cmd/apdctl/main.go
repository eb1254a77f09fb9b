// Command apdctl sends one control-FIFO record to a running apdcored and
// prints whether it was acked, the way the teacher's cmd/showreg and
// cmd/pk2 were thin, single-purpose wrappers around one FPGA operation.
//
// Usage:
//
//	apdctl enable ai|ao <chan|all> on|off
//	apdctl chanspec ai|ao <chan|all> <range> <aref>
//	apdctl gain ai|ao <chan|all> <range>
//	apdctl rate <hz>
//	apdctl attach <pid>
//	apdctl spike-enable <chan|all> on|off
//	apdctl spike-polarity <chan|all> pos|neg
//	apdctl spike-blanking <chan|all> <ms>
//	apdctl spike-threshold <chan|all> <volts>
//
// The target socket is read from $APDCORE_CTRL_SOCK, defaulting to
// /tmp/apdcore.ctrl.sock, the control socket apdcored listens on.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/dchristini-lab/apdcore/aio"
	"github.com/dchristini-lab/apdcore/ctrlfifo"
)

const allChannels = -1

func usage() {
	fmt.Fprintln(os.Stderr, "usage: apdctl <command> [args...]")
	os.Exit(2)
}

func parseChannel(s string) int32 {
	if s == "all" {
		return allChannels
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apdctl: bad channel %q: %v\n", s, err)
		os.Exit(2)
	}
	return int32(n)
}

func parseNamespace(s string) aio.Namespace {
	switch s {
	case "ai":
		return aio.AI
	case "ao":
		return aio.AO
	}
	fmt.Fprintf(os.Stderr, "apdctl: bad namespace %q, want ai or ao\n", s)
	os.Exit(2)
	return aio.AI
}

func parseOnOff(s string) bool {
	switch s {
	case "on":
		return true
	case "off":
		return false
	}
	fmt.Fprintf(os.Stderr, "apdctl: bad on/off value %q\n", s)
	os.Exit(2)
	return false
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apdctl: bad number %q: %v\n", s, err)
		os.Exit(2)
	}
	return v
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apdctl: bad number %q: %v\n", s, err)
		os.Exit(2)
	}
	return v
}

func buildRecord(args []string) ctrlfifo.Record {
	if len(args) == 0 {
		usage()
	}
	rec := ctrlfifo.Record{Version: ctrlfifo.ProtocolVersion, Channel: allChannels}

	switch cmd := args[0]; cmd {
	case "enable":
		if len(args) != 4 {
			usage()
		}
		rec.Tag = ctrlfifo.TagSetChannelEnable
		rec.Namespace = parseNamespace(args[1])
		rec.Channel = parseChannel(args[2])
		rec.BoolArg = parseOnOff(args[3])
	case "chanspec":
		if len(args) != 5 {
			usage()
		}
		rec.Tag = ctrlfifo.TagSetChanspec
		rec.Namespace = parseNamespace(args[1])
		rec.Channel = parseChannel(args[2])
		rec.Range = int32(parseInt(args[3]))
		rec.Aref = aio.AnalogReference(parseInt(args[4]))
	case "gain":
		if len(args) != 4 {
			usage()
		}
		rec.Tag = ctrlfifo.TagSetGain
		rec.Namespace = parseNamespace(args[1])
		rec.Channel = parseChannel(args[2])
		rec.Range = int32(parseInt(args[3]))
	case "rate":
		if len(args) != 2 {
			usage()
		}
		rec.Tag = ctrlfifo.TagSetSamplingRate
		rec.IntArg = parseInt(args[1])
	case "attach":
		if len(args) != 2 {
			usage()
		}
		rec.Tag = ctrlfifo.TagSetAttachedPID
		rec.IntArg = parseInt(args[1])
	case "spike-enable":
		if len(args) != 3 {
			usage()
		}
		rec.Tag = ctrlfifo.TagSetSpikeEnable
		rec.Channel = parseChannel(args[1])
		rec.BoolArg = parseOnOff(args[2])
	case "spike-polarity":
		if len(args) != 3 {
			usage()
		}
		rec.Tag = ctrlfifo.TagSetSpikePolarity
		rec.Channel = parseChannel(args[1])
		if args[2] == "pos" {
			rec.Polarity = 0
		} else {
			rec.Polarity = 1
		}
	case "spike-blanking":
		if len(args) != 3 {
			usage()
		}
		rec.Tag = ctrlfifo.TagSetSpikeBlanking
		rec.Channel = parseChannel(args[1])
		rec.FloatArg = parseFloat(args[2])
	case "spike-threshold":
		if len(args) != 3 {
			usage()
		}
		rec.Tag = ctrlfifo.TagSetSpikeThreshold
		rec.Channel = parseChannel(args[1])
		rec.FloatArg = parseFloat(args[2])
	default:
		fmt.Fprintf(os.Stderr, "apdctl: unknown command %q\n", cmd)
		usage()
	}
	return rec
}

func socketPath() string {
	if p := os.Getenv("APDCORE_CTRL_SOCK"); p != "" {
		return p
	}
	return "/tmp/apdcore.ctrl.sock"
}

func main() {
	rec := buildRecord(os.Args[1:])

	conn, err := net.Dial("unix", socketPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "apdctl: connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if _, err := conn.Write(ctrlfifo.Encode(rec)); err != nil {
		fmt.Fprintf(os.Stderr, "apdctl: write: %v\n", err)
		os.Exit(1)
	}

	// The core writes an ack only for an accepted record, so a rejected
	// one is reported once this deadline passes.
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	ack := make([]byte, 1)
	if _, err := conn.Read(ack); err != nil {
		fmt.Fprintf(os.Stderr, "apdctl: no reply: %v\n", err)
		os.Exit(1)
	}
	if ack[0] == 1 {
		fmt.Println("ok")
	} else {
		fmt.Println("rejected")
		os.Exit(1)
	}
}
