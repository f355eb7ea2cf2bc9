package oscilloscope

// The acquisition controller: the state machine that owns the signal
// source lifecycle, gates commands on the current state, and fans each
// completed frame out to the scaler and the measurement engine.

import (
	"fmt"
	"sync"
	"time"
)

// AcquisitionState is the controller's lifecycle state. The controller is
// its single writer.
type AcquisitionState int

// The acquisition states.
const (
	Disconnected AcquisitionState = iota // no link; initial and terminal
	Connected                            // link open, idle
	Running                              // continuous acquisition
	SingleShotArmed                      // waiting for one triggered frame
)

// String returns the state name.
func (s AcquisitionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case Running:
		return "Running"
	case SingleShotArmed:
		return "SingleShotArmed"
	}
	return fmt.Sprintf("AcquisitionState(%d)", int(s))
}

// ControllerError reports a command issued in a state that forbids it.
// The state is unchanged when it is returned.
type ControllerError struct {
	State AcquisitionState
	Op    string
}

func (e *ControllerError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s while %s", e.Op, e.State)
}

// EventKind tags controller events.
type EventKind int

// The event kinds delivered on the controller's event channel.
const (
	EventFrameProcessed EventKind = iota // a frame was rendered and measured
	EventLinkLost                        // the link died mid-session
)

// Event is one notification to the collaborator (GUI or remote client).
// FrameProcessed events carry the rendered series and its measurement
// snapshot, both computed from the same frame.
type Event struct {
	Kind     EventKind
	Series   RenderedSeries
	Snapshot MeasurementSnapshot
}

// SourceOpener turns a descriptor into a live SignalSource.
type SourceOpener func(descriptor string) (SignalSource, error)

// SyntheticDescriptor selects the in-process generator instead of a port.
const SyntheticDescriptor = "synthetic"

// DefaultSourceOpener opens a serial device source, or the synthetic
// source for the special descriptor "synthetic".
func DefaultSourceOpener(descriptor string) (SignalSource, error) {
	if descriptor == SyntheticDescriptor {
		return NewSyntheticSource(DefaultSyntheticConfig()), nil
	}
	link, err := OpenSerialLink(descriptor, DefaultBaudRate)
	if err != nil {
		return nil, err
	}
	return NewDeviceSource(link), nil
}

// Controller coordinates the link lifecycle, run/stop/single-shot
// semantics, and per-frame processing. All frame processing happens on one
// goroutine, so render and measure always see the same frame snapshot and
// no two frames are processed concurrently.
type Controller struct {
	// OpenSource, BootSettle, and PingTimeout may be replaced before the
	// first Connect (tests substitute fakes; the daemon leaves defaults).
	OpenSource  SourceOpener
	BootSettle  time.Duration
	PingTimeout time.Duration

	mu         sync.Mutex
	state      AcquisitionState
	connecting bool // a Connect holds the state across its boot settle
	settings   DisplaySettings
	probe      ProbeAttenuation
	source     SignalSource
	descriptor string
	lastSeries RenderedSeries

	events   chan Event
	requests chan func()
	abort    chan struct{}
	loopDone sync.WaitGroup
}

// NewController returns an idle (Disconnected) controller with default
// display settings.
func NewController() *Controller {
	return &Controller{
		OpenSource:  DefaultSourceOpener,
		BootSettle:  DefaultBootSettle,
		PingTimeout: time.Second,
		settings:    DefaultDisplaySettings(),
		probe:       Probe1x,
		events:      make(chan Event, 64),
	}
}

// Events is the subscription channel for FrameProcessed and LinkLost
// notifications. Events are dropped, not blocked on, if the subscriber
// falls behind.
func (c *Controller) Events() <-chan Event { return c.events }

// State returns the current acquisition state.
func (c *Controller) State() AcquisitionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LatestSeries returns the most recently rendered series (empty when
// disconnected or before the first frame).
func (c *Controller) LatestSeries() RenderedSeries {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeries
}

// DisplaySettings returns the current display settings.
func (c *Controller) DisplaySettings() DisplaySettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Connect opens the source named by descriptor, waits out the device boot
// settle time, and pings it once. A ping failure is logged as a link
// health warning but does not fail the connect. On success the state
// becomes Connected and the processing loop starts.
func (c *Controller) Connect(descriptor string) error {
	c.mu.Lock()
	if c.state != Disconnected || c.connecting {
		defer c.mu.Unlock()
		return &ControllerError{c.state, "Connect"}
	}
	// Reserve the state before dropping the lock: a second Connect racing
	// through the boot settle must be rejected, not open a second source.
	c.connecting = true
	c.mu.Unlock()

	src, err := c.OpenSource(descriptor)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		return err
	}

	// The device needs boot time after the port opens; no command may be
	// sent until then.
	if c.BootSettle > 0 {
		time.Sleep(c.BootSettle)
	}
	if err := src.Ping(c.PingTimeout); err != nil {
		ProblemLogger.Printf("link health: ping on %q failed: %v", descriptor, err)
	}

	c.mu.Lock()
	c.connecting = false
	c.state = Connected
	c.source = src
	c.descriptor = descriptor
	c.requests = make(chan func())
	c.abort = make(chan struct{})
	c.mu.Unlock()

	c.loopDone.Add(1)
	go c.loop(src)
	UpdateLogger.Printf("connected to %q", descriptor)
	return nil
}

// loop is the consumer side of the worker/consumer pair: it alternates
// between queued requests and completed frames, never both at once.
func (c *Controller) loop(src SignalSource) {
	defer c.loopDone.Done()
	for {
		select {
		case <-c.abort:
			return
		case request := <-c.requests:
			request()
		case frame := <-src.Frames():
			c.processFrame(frame)
		case <-src.Lost():
			c.handleLoss(src)
			return
		}
	}
}

// processFrame renders and measures one frame and emits FrameProcessed.
// The device-reported sample rate in the frame always overrides any local
// expectation. A frame received while armed completes the single shot.
func (c *Controller) processFrame(frame *RawFrame) {
	c.mu.Lock()
	settings := c.settings
	armed := c.state == SingleShotArmed
	src := c.source
	c.mu.Unlock()

	series := Render(frame, settings)
	snapshot := Measure(series)

	c.mu.Lock()
	c.lastSeries = series
	if armed && c.state == SingleShotArmed {
		c.state = Connected
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventFrameProcessed, Series: series, Snapshot: snapshot})

	if armed && src != nil {
		// Leave the firmware in auto trigger so a later Start behaves
		// normally.
		if err := src.SendCommand(SetTriggerMode{TriggerAuto}); err != nil {
			ProblemLogger.Printf("single shot: reverting trigger mode: %v", err)
		}
	}
}

// handleLoss tears the session down after a mid-session link failure and
// forces the display into the explicit no-data condition.
func (c *Controller) handleLoss(src SignalSource) {
	c.mu.Lock()
	c.state = Disconnected
	c.source = nil
	c.lastSeries = RenderedSeries{}
	descriptor := c.descriptor
	abort := c.abort
	c.mu.Unlock()

	// Release anyone blocked queuing a request onto this session's loop.
	closeIfOpen(abort)
	src.Close()
	ProblemLogger.Printf("link to %q lost", descriptor)
	c.emit(Event{Kind: EventFrameProcessed, Series: RenderedSeries{}})
	c.emit(Event{Kind: EventLinkLost})
}

// Disconnect stops acquisition (best effort), stops the worker, and closes
// the source. The display is forced to the no-data condition.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if c.state == Disconnected {
		defer c.mu.Unlock()
		return &ControllerError{c.state, "Disconnect"}
	}
	src := c.source
	abort := c.abort
	c.state = Disconnected
	c.source = nil
	c.lastSeries = RenderedSeries{}
	c.mu.Unlock()

	if src != nil {
		if err := src.SendCommand(Stop{}); err != nil {
			ProblemLogger.Printf("disconnect: stop command: %v", err)
		}
	}
	closeIfOpen(abort)
	c.loopDone.Wait()
	if src != nil {
		src.Close()
	}
	c.emit(Event{Kind: EventFrameProcessed, Series: RenderedSeries{}})
	UpdateLogger.Printf("disconnected")
	return nil
}

// Start begins continuous acquisition. Allowed only while Connected.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state != Connected {
		defer c.mu.Unlock()
		return &ControllerError{c.state, "Start"}
	}
	src := c.source
	c.state = Running
	c.mu.Unlock()
	return src.SendCommand(Start{})
}

// Stop ends continuous acquisition (or disarms a pending single shot).
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != Running && c.state != SingleShotArmed {
		defer c.mu.Unlock()
		return &ControllerError{c.state, "Stop"}
	}
	disarming := c.state == SingleShotArmed
	src := c.source
	c.state = Connected
	c.mu.Unlock()

	if err := src.SendCommand(Stop{}); err != nil {
		return err
	}
	if disarming {
		return src.SendCommand(SetTriggerMode{TriggerAuto})
	}
	return nil
}

// SingleShot arms the device for one triggered frame: trigger mode Single,
// then Start. The state reverts to Connected when the frame arrives.
func (c *Controller) SingleShot() error {
	c.mu.Lock()
	if c.state != Connected {
		defer c.mu.Unlock()
		return &ControllerError{c.state, "SingleShot"}
	}
	src := c.source
	c.state = SingleShotArmed
	c.mu.Unlock()

	if err := src.SendCommand(SetTriggerMode{TriggerSingle}); err != nil {
		return err
	}
	return src.SendCommand(Start{})
}

// SetDisplaySettings replaces the display settings. When a session is
// live, the change is queued onto the processing loop so it takes effect
// on the next frame, never retroactively.
func (c *Controller) SetDisplaySettings(s DisplaySettings) error {
	if !s.Valid() {
		return fmt.Errorf("display settings rejected: scales and divisions must be positive (%+v)", s)
	}
	c.mu.Lock()
	live := c.state != Disconnected
	requests := c.requests
	abort := c.abort
	if !live {
		c.settings = s
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	apply := func() {
		c.mu.Lock()
		c.settings = s
		c.mu.Unlock()
	}
	select {
	case requests <- apply:
		return nil
	case <-abort:
		// Session ended while queuing; apply directly.
		apply()
		return nil
	}
}

// sendLive forwards a command when the state permits it. Settings are
// pushed to the device and never cached locally ahead of acknowledgement.
func (c *Controller) sendLive(op string, cmd Command) error {
	c.mu.Lock()
	if c.state == Disconnected {
		defer c.mu.Unlock()
		return &ControllerError{c.state, op}
	}
	src := c.source
	c.mu.Unlock()
	return src.SendCommand(cmd)
}

// RequestFrame asks the device for one frame without starting continuous
// acquisition. The frame arrives and is processed like any other.
func (c *Controller) RequestFrame() error {
	return c.sendLive("RequestFrame", GetData{})
}

// SetSampleRate forwards a RATE command after validating the rate against
// the firmware's permitted table.
func (c *Controller) SetSampleRate(hz uint32) error {
	if !ValidSampleRate(hz) {
		return fmt.Errorf("sample rate %d Hz not in permitted table %v", hz, SampleRates)
	}
	return c.sendLive("SetSampleRate", SetRate{Hz: hz})
}

// SetTriggerMode forwards a TRIG_MODE command.
func (c *Controller) SetTriggerMode(m TriggerMode) error {
	return c.sendLive("SetTriggerMode", SetTriggerMode{Mode: m})
}

// SetTriggerEdge forwards a TRIG_EDGE command.
func (c *Controller) SetTriggerEdge(e TriggerEdge) error {
	return c.sendLive("SetTriggerEdge", SetTriggerEdge{Edge: e})
}

// SetTriggerLevel forwards a TRIG_LEVEL command and records the level for
// the trigger line rendering aid.
func (c *Controller) SetTriggerLevel(volts float64) error {
	if err := c.sendLive("SetTriggerLevel", SetTriggerLevel{Volts: volts}); err != nil {
		return err
	}
	c.mu.Lock()
	c.settings.TriggerLevelV = volts
	c.mu.Unlock()
	return nil
}

// SetProbeAttenuation forwards a PROBE command. The factor is tracked for
// status reporting but not scaled into voltages.
func (c *Controller) SetProbeAttenuation(p ProbeAttenuation) error {
	if !ValidProbeAttenuation(p) {
		return fmt.Errorf("probe attenuation %dx is not one of 1x/10x/100x", int(p))
	}
	if err := c.sendLive("SetProbeAttenuation", SetProbeAttenuation{Factor: p}); err != nil {
		return err
	}
	c.mu.Lock()
	c.probe = p
	c.mu.Unlock()
	return nil
}

// ScopeStatus is the controller state reported to clients.
type ScopeStatus struct {
	State      string
	Descriptor string
	ProbeX     int
	Settings   DisplaySettings
}

// Status snapshots the controller for the status broadcast.
func (c *Controller) Status() ScopeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ScopeStatus{
		State:      c.state.String(),
		Descriptor: c.descriptor,
		ProbeX:     int(c.probe),
		Settings:   c.settings,
	}
}

// emit delivers an event without ever blocking frame processing.
func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		ProblemLogger.Printf("event subscriber too slow; dropping %d", ev.Kind)
	}
}
