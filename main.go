// Command apdcored is the RT core daemon: it wires together the Binary
// Heap, AIO Driver Facade, Shared State Region, Control FIFO Dispatcher,
// Acquisition Engine, Callback Registry, Command Scheduler, Stimulator,
// and APD Detector & Controller (spec.md C1-C10) into one running process,
// the same role the teacher's root-level ogdar.go played for the
// oscilloscope/digdar FPGA stack: read config, build the driver-facing
// objects, and run the acquisition loop until asked to stop.
//
// Since this module targets no particular RTOS or AIO board, apdcored
// runs aio.SimDriver by default and exposes the control/AI/APD FIFOs over
// local Unix-domain sockets, so cmd/apdctl (or any client willing to speak
// the spec.md §6 wire formats) can drive and observe it without linking
// against the Go module.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dchristini-lab/apdcore/acq"
	"github.com/dchristini-lab/apdcore/aio"
	"github.com/dchristini-lab/apdcore/apd"
	"github.com/dchristini-lab/apdcore/callback"
	"github.com/dchristini-lab/apdcore/ctrlfifo"
	"github.com/dchristini-lab/apdcore/errs"
	"github.com/dchristini-lab/apdcore/rtos"
	"github.com/dchristini-lab/apdcore/shared"
	"github.com/dchristini-lab/apdcore/stim"
)

// core bundles every wired-up component. shutdown stops the acquisition
// loop and closes the listening sockets; it does not close the driver, and
// buildCore does not release the components it already built when a later
// step fails.
type core struct {
	facade     *aio.Facade
	region     *shared.Region
	registry   *callback.Registry
	dispatcher *ctrlfifo.Dispatcher
	engine     *acq.Engine
	controller *apd.Controller
	stims      []*stim.Stimulator

	aiFIFO      *rtos.Fifo
	controlFIFO *rtos.Fifo
	replyFIFO   *rtos.Fifo
	apdFIFO     *rtos.Fifo

	listeners []net.Listener
}

// channelSamplesFrom adapts the acquisition engine's per-scan Sample slice
// into the narrower view apd.Controller.Process expects.
func channelSamplesFrom(samples []acq.Sample) []apd.ChannelSample {
	out := make([]apd.ChannelSample, len(samples))
	for i, s := range samples {
		out[i] = apd.ChannelSample{Channel: s.Channel, Volts: s.Volts, Spike: s.Spike}
	}
	return out
}

// openDriver picks aio.MMapDriver when cfg names a real device to mmap, and
// aio.SimDriver otherwise — the bench-rig default with no hardware attached.
func openDriver(cfg Config) (aio.Driver, error) {
	if cfg.MMapDevicePath == "" {
		krange := aio.Krange{MinTicks: cfg.RangeMinTicks, MaxTicks: cfg.RangeMaxTicks, Unit: aio.UnitVolts}
		return aio.NewSimDriver(cfg.NAI, cfg.NAO, krange, aio.Raw(cfg.Maxdata)), nil
	}
	return aio.OpenMMapDriver(aio.MMapConfig{
		DevicePath: cfg.MMapDevicePath,
		AIBaseAddr: cfg.AIBaseAddr,
		AOBaseAddr: cfg.AOBaseAddr,
		NAI:        cfg.NAI,
		NAO:        cfg.NAO,
		AIRange:    aio.Krange{MinTicks: cfg.RangeMinTicks, MaxTicks: cfg.RangeMaxTicks, Unit: aio.UnitVolts},
		AORange:    aio.Krange{MinTicks: cfg.RangeMinTicks, MaxTicks: cfg.RangeMaxTicks, Unit: aio.UnitVolts},
		Maxdata:    aio.Raw(cfg.Maxdata),
	})
}

func buildCore(cfg Config) (*core, error) {
	driver, err := openDriver(cfg)
	if err != nil {
		return nil, err
	}

	facade, err := aio.NewFacade(driver)
	if err != nil {
		return nil, err
	}

	fifoBytes := cfg.FifoSecs * int(cfg.SamplingRateHz) * cfg.NAI * 32
	if fifoBytes <= 0 {
		fifoBytes = 1 << 20
	}
	aiFIFO := rtos.NewFifo(fifoBytes)
	controlFIFO := rtos.NewFifo(1 << 16)
	replyFIFO := rtos.NewFifo(1 << 12)
	apdFIFO := rtos.NewFifo(1 << 20)

	region := shared.NewRegion(ctrlfifo.NormalizeSamplingRate(cfg.SamplingRateHz), 1, 2, 3, 4, 5)
	region.SetSubdevicePaths(cfg.AISubdevicePath, cfg.AOSubdevicePath)

	registry := callback.NewRegistry(0)
	dispatcher := ctrlfifo.NewDispatcher(controlFIFO, replyFIFO, region)

	engine := acq.NewEngine(facade, region, registry, dispatcher, aiFIFO, rtos.SystemClock,
		time.Duration(cfg.SettlingTimeNS))

	var aoChanspecs []aio.Chanspec
	for ch := 0; ch < cfg.NAO; ch++ {
		aoChanspecs = append(aoChanspecs, aio.Chanspec{Channel: ch})
	}
	if region.SamplingRateHz() < 1000 {
		return nil, errs.RateTooLow
	}
	controller, err := apd.NewController(facade, facade, apdFIFO, cfg.NAI, aoChanspecs,
		cfg.ApdXX, cfg.StimVoltage, cfg.RestVoltage)
	if err != nil {
		return nil, err
	}
	for i := range controller.AO {
		controller.AO[i].NominalPI = cfg.NominalPI
		controller.AO[i].GVal = cfg.GVal
		controller.AO[i].DeltaG = cfg.DeltaG
	}
	apdClock := func() (uint64, uint64) { return region.ScanIndex(), region.NanosPerScan() }

	stims := make([]*stim.Stimulator, cfg.NAO)
	for ch := 0; ch < cfg.NAO; ch++ {
		s := stim.NewStimulator(facade, aio.AO, aio.Chanspec{Channel: ch}, cfg.MaxTrainSize, apdClock)
		stims[ch] = s
	}

	if _, err := registry.Register(func(scanIndex uint64) {
		controller.Process(scanIndex, channelSamplesFrom(engine.Samples()))
	}); err != nil {
		return nil, err
	}
	for _, s := range stims {
		s := s
		if _, err := registry.Register(func(scanIndex uint64) { s.Process(scanIndex) }); err != nil {
			return nil, err
		}
	}

	return &core{
		facade:      facade,
		region:      region,
		registry:    registry,
		dispatcher:  dispatcher,
		engine:      engine,
		controller:  controller,
		stims:       stims,
		aiFIFO:      aiFIFO,
		controlFIFO: controlFIFO,
		replyFIFO:   replyFIFO,
		apdFIFO:     apdFIFO,
	}, nil
}

// serveFifoSource accepts connections on path and streams fifo's output
// to whichever client is currently attached, polling at the acquisition
// rate rather than blocking, since rtos.Fifo has no native wait primitive
// (spec.md's FIFOs are consumed by a non-RT reader, which here is this
// loop instead of a real RTOS consumer thread).
func serveFifoSource(path string, fifo *rtos.Fifo) (net.Listener, error) {
	os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go pumpFifoToConn(fifo, conn)
		}
	}()
	return l, nil
}

func pumpFifoToConn(fifo *rtos.Fifo, conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 4096)
	for {
		n := fifo.Len()
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		if n > len(buf) {
			n = len(buf)
		}
		got, _ := fifo.Read(buf[:n])
		if got == 0 {
			continue
		}
		if _, err := conn.Write(buf[:got]); err != nil {
			return
		}
	}
}

// serveControl accepts connections on path and bridges each one's inbound
// bytes into controlFIFO, while a paired goroutine drains replyFIFO back
// out to the same connection (spec.md §6's control/reply FIFO pair).
func serveControl(path string, controlFIFO, replyFIFO *rtos.Fifo) (net.Listener, error) {
	os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go pumpConnToFifo(conn, controlFIFO)
			go pumpFifoToConn(replyFIFO, conn)
		}
	}()
	return l, nil
}

func pumpConnToFifo(conn net.Conn, fifo *rtos.Fifo) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			_, _ = fifo.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (c *core) listen(cfg Config) error {
	ctrlL, err := serveControl(cfg.ControlSocketPath, c.controlFIFO, c.replyFIFO)
	if err != nil {
		return err
	}
	aiL, err := serveFifoSource(cfg.AISocketPath, c.aiFIFO)
	if err != nil {
		ctrlL.Close()
		return err
	}
	apdL, err := serveFifoSource(cfg.APDSocketPath, c.apdFIFO)
	if err != nil {
		ctrlL.Close()
		aiL.Close()
		return err
	}
	c.listeners = []net.Listener{ctrlL, aiL, apdL}
	return nil
}

func (c *core) shutdown() {
	c.engine.Task().Stop()
	for _, l := range c.listeners {
		l.Close()
	}
}

func main() {
	cfg, found := loadConfig()
	if found {
		log.Printf("apdcored: loaded apdcore.toml")
	}

	c, err := buildCore(cfg)
	if err != nil {
		log.Fatalf("apdcored: init failed: %v", err)
	}
	if err := c.listen(cfg); err != nil {
		log.Fatalf("apdcored: failed to open control/data sockets: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Printf("apdcored: shutting down")
		c.shutdown()
	}()

	log.Printf("apdcored: running at %d Hz, %d AI / %d AO channels", c.region.SamplingRateHz(), cfg.NAI, cfg.NAO)
	c.engine.Run()
}
