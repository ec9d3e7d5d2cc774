package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"transposer/config"
	tmidi "transposer/midi"
	"transposer/relay"
	"transposer/transpose"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "monitor":
		monitor(arg(2, ""))
	case "transpose":
		sendTranspose(arg(2, "0"))
	case "up":
		sendStep(true)
	case "down":
		sendStep(false)
	case "receive":
		receive(arg(2, ""))
	default:
		usage()
	}
}

func arg(i int, def string) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return def
}

func usage() {
	fmt.Println("Transposer Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list              - List all MIDI ports")
	fmt.Println("  monitor [name]    - Print messages from the first input matching name")
	fmt.Println("  transpose <n>     - Send /transpose n to the OSC listener")
	fmt.Println("  up / down         - Send /transposeUp or /transposeDown")
	fmt.Println("  receive [addr]    - Print OSC messages arriving at the relay target")
}

func listPorts() {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	ports, err := tmidi.ListPorts(tmidi.PortScanTimeout)
	if err != nil {
		fmt.Println("\nTIMEOUT! CoreMIDI is hung.")
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
		return
	}
	for i, name := range ports.InNames() {
		fmt.Printf("  %d: %s\n", i, name)
	}
	fmt.Println("\n=== MIDI Output Ports ===")
	for i, name := range ports.OutNames() {
		fmt.Printf("  %d: %s\n", i, name)
	}
}

func monitor(substr string) {
	defer midi.CloseDriver()

	ports, err := tmidi.ListPorts(tmidi.PortScanTimeout)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	idx, err := tmidi.SelectIn(ports.InNames(), substr, tmidi.ConsolePrompt(os.Stdin, os.Stdout))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	in := ports.In[idx]
	fmt.Printf("Monitoring %s (Ctrl+C to stop)\n", in.String())

	stop, err := midi.ListenTo(in, func(msg midi.Message, timestampms int32) {
		line := fmt.Sprintf("%8dms  % X  %s", timestampms, []byte(msg), msg.String())
		if len(msg) >= 2 && (msg[0]&0xF0 == transpose.NoteOn || msg[0]&0xF0 == transpose.NoteOff) {
			line += "  " + transpose.NoteName(msg[1])
		}
		fmt.Println(line)
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
}

func listenerTarget() (string, config.OSCConfig) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v (using defaults)\n", err)
		cfg = config.DefaultConfig()
	}
	return cfg.ListenAddr(), cfg.OSC
}

func sendTranspose(value string) {
	addr, oscCfg := listenerTarget()

	var msg *osc.Message
	if strings.Contains(value, ".") {
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		msg = osc.NewMessage(oscCfg.TransposePath, float32(f))
	} else {
		n, err := strconv.Atoi(value)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		msg = osc.NewMessage(oscCfg.TransposePath, int32(n))
	}

	if err := relay.SendOne(addr, msg); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Sent %s %v to %s\n", msg.Address, msg.Arguments, addr)
}

func sendStep(up bool) {
	addr, oscCfg := listenerTarget()
	path := oscCfg.TransposeDownPath
	if up {
		path = oscCfg.TransposeUpPath
	}

	msg := osc.NewMessage(path, int32(1))
	if err := relay.SendOne(addr, msg); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Sent %s to %s\n", path, addr)
}

func receive(addr string) {
	if addr == "" {
		cfg, err := config.Load()
		if err != nil {
			cfg = config.DefaultConfig()
		}
		addr = cfg.TargetAddr()
	}

	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer conn.Close()
	fmt.Printf("Listening for OSC on %s (Ctrl+C to stop)\n", conn.LocalAddr())

	buf := make([]byte, 1536)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		packet, err := osc.ParsePacket(string(buf[:n]))
		if err != nil {
			fmt.Printf("%s  decode error: %v\n", peer, err)
			continue
		}
		if msg, ok := packet.(*osc.Message); ok {
			fmt.Printf("%s  %s  %s %v\n", time.Now().Format("15:04:05.000"), peer, msg.Address, msg.Arguments)
		}
	}
}
