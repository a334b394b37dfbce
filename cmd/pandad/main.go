// Command pandad is the PandA FPGA controller server: it loads the three
// startup databases, opens the kernel driver (or a simulated device), and
// serves the command and data protocols until a termination signal arrives.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/panda-fpga/pandad/internal/cmdserver"
	"github.com/panda-fpga/pandad/internal/dataserver"
	"github.com/panda-fpga/pandad/internal/dbload"
	"github.com/panda-fpga/pandad/internal/entity"
	"github.com/panda-fpga/pandad/internal/hwaccess"
	"github.com/panda-fpga/pandad/internal/logx"
	"github.com/panda-fpga/pandad/internal/persist"
	"github.com/panda-fpga/pandad/internal/sysctl"
)

var log = logx.For("main")

func main() {
	os.Exit(run())
}

func run() int {
	cmdPort := flag.String("p", "8888", "command protocol port")
	dataPort := flag.String("d", "8889", "data protocol port")
	reuseAddr := flag.Bool("R", false, "set SO_REUSEADDR on both listeners")
	configPath := flag.String("c", "config.db", "config database path")
	registersPath := flag.String("r", "registers.db", "registers database path")
	descPath := flag.String("D", "", "description database path (optional)")
	persistPath := flag.String("f", "", "persistence file path (disabled if empty)")
	timeouts := flag.String("t", "2:0.2:1", "poll:holdoff:backoff persistence timeouts, in seconds")
	extPort := flag.String("X", "", "extension server port (optional)")
	macPath := flag.String("M", "", "MAC address file path (optional)")
	verbose := flag.Bool("v", false, "enable debug logging")
	simHW := flag.Bool("sim", false, "run against the in-process hardware simulator instead of /dev/panda.*")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pandad [options]\n\nServes the PandA command and data protocols.\n\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logx.SetDebug(*verbose)
	printBanner()

	intervals, err := parseIntervals(*timeouts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pandad: -t %v\n", err)
		return 1
	}

	hw, hwClose, err := openHardware(*simHW, *registersPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pandad: %v\n", err)
		return 1
	}
	defer hwClose()

	loaded, err := dbload.Load(dbload.Paths{Config: *configPath, Registers: *registersPath, Description: *descPath}, hw, captureBusWidth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pandad: %v\n", err)
		return 1
	}

	if *macPath != "" {
		if err := loadMACFile(*macPath, hw, loaded.Regs); err != nil {
			fmt.Fprintf(os.Stderr, "pandad: MAC address file: %v\n", err)
			return 1
		}
	}

	var writer *persist.Writer
	if *persistPath != "" {
		n, err := persist.Replay(loaded.Entity, *persistPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pandad: persistence replay: %v\n", err)
			return 1
		}
		log.Info("persistence replay complete", "records", n, "path", *persistPath)
		writer = persist.New(*persistPath, loaded.Entity, intervals)
	}

	ctrl := sysctl.New(loaded.Entity, loaded.Registry, hw)
	populateDescriptions(ctrl, loaded.Entity)

	cmdSrv, err := cmdserver.New(":"+*cmdPort, *reuseAddr, loaded.Entity, ctrl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pandad: %v\n", err)
		return 1
	}
	dataSrv, err := dataserver.New(":"+*dataPort, *reuseAddr, ctrl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pandad: %v\n", err)
		return 1
	}

	var extSrv *cmdserver.Server
	if *extPort != "" {
		extSrv, err = cmdserver.New(":"+*extPort, *reuseAddr, loaded.Entity, ctrl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pandad: extension server: %v\n", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	cmdSrv.Start()
	dataSrv.Start()
	if extSrv != nil {
		extSrv.Start()
	}
	if writer != nil {
		writer.Start(ctx)
	}
	log.Info("pandad ready", "cmd_port", *cmdPort, "data_port", *dataPort, "ext_port", *extPort)

	<-ctx.Done()
	log.Info("shutting down")

	cmdSrv.Stop()
	dataSrv.Stop()
	if extSrv != nil {
		extSrv.Stop()
	}
	if writer != nil {
		writer.Stop()
	}
	return 0
}

// printBanner prints a one-line startup banner, but only when stderr is an
// actual terminal — a piped/redirected stderr (the common case under a
// process supervisor) gets none of it, matching how the teacher's own
// boilerPlate() is purely a human-facing flourish and never something a
// script parses.
func printBanner() {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return
	}
	fmt.Fprintln(os.Stderr, "pandad — PandA FPGA controller server")
}

// captureBusWidth bounds the number of simultaneously capture-enabled
// outputs; spec §4.4 ties capture eligibility to pos_out/ext_out fields,
// one per position-bus slot, so this matches busstate.PosBusLen.
const captureBusWidth = 32

func parseIntervals(spec string) (persist.Intervals, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return persist.Intervals{}, fmt.Errorf("expected poll:holdoff:backoff, got %q", spec)
	}
	var secs [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return persist.Intervals{}, fmt.Errorf("bad duration %q: %w", p, err)
		}
		secs[i] = v
	}
	return persist.Intervals{
		Poll:    time.Duration(secs[0] * float64(time.Second)),
		Holdoff: time.Duration(secs[1] * float64(time.Second)),
		Backoff: time.Duration(secs[2] * float64(time.Second)),
	}, nil
}

// openHardware opens the kernel driver device, or the in-process simulator
// under -sim. The real device needs the registers database's RegisterMap
// before dbload.Load can run (Load itself needs an already-open
// HardwareAccess to wire register-backed fields), so the registers file is
// parsed once here via dbload.LoadRegisters and again inside Load; both
// parses produce the same validated map, and the duplication is cheaper
// than threading an already-built RegisterMap through Load's signature.
func openHardware(useSim bool, registersPath string) (hwaccess.HardwareAccess, func(), error) {
	if useSim {
		s := hwaccess.NewSim()
		return s, func() { s.Close() }, nil
	}
	regs, err := dbload.LoadRegisters(registersPath)
	if err != nil {
		return nil, nil, err
	}
	dev, err := hwaccess.Open(regs)
	if err != nil {
		return nil, nil, fmt.Errorf("open hardware: %w", err)
	}
	return dev, func() { dev.Close() }, nil
}

// loadMACFile reads the MAC address file (spec §6): one line per slot, each
// a comment, blank slot, or "XX:XX:XX:XX:XX:XX" address, written to
// consecutive hardware MAC registers (six per slot) starting at the "MAC"
// symbolic register name. The number of lines is not bounded. A registers database without that name means the build
// has no MAC-capable block; the file is then rejected outright rather than
// silently ignored, since the caller explicitly asked for it via -M.
func loadMACFile(path string, hw hwaccess.HardwareAccess, regs *hwaccess.RegisterMap) error {
	base, ok := regs.Offset("MAC")
	if !ok {
		return fmt.Errorf("registers database has no MAC register base")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	slot := uint32(0)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			slot++
			continue
		}
		mac, err := parseMAC(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", slot+1, err)
		}
		if err := hw.WriteMAC(base+slot*6, mac); err != nil {
			return fmt.Errorf("line %d: %w", slot+1, err)
		}
		slot++
	}
	return scanner.Err()
}

func parseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return mac, fmt.Errorf("malformed MAC address %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return mac, fmt.Errorf("malformed MAC address %q", s)
		}
		mac[i] = byte(v)
	}
	return mac, nil
}

// populateDescriptions copies every field's parsed Description (set by
// internal/dbload's description-database pass) into the sysctl
// Controller's Descs map, keyed "<block>.<field>" (no instance number), the
// text *DESC.<block>.<field>? looks up.
func populateDescriptions(ctrl *sysctl.Controller, ent *entity.Entity) {
	for _, blockName := range ent.BlockOrder {
		block := ent.Blocks[blockName]
		for _, fieldName := range block.FieldOrder {
			field := block.Fields[fieldName]
			if field.Description == "" {
				continue
			}
			ctrl.Descs[blockName+"."+fieldName] = field.Description
		}
	}
}
