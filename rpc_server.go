package oscilloscope

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// SnapshotRecorder receives every measurement snapshot the controller
// produces. The daemon wires the ClickHouse recorder in here; tests use a
// fake or nothing at all.
type SnapshotRecorder interface {
	RecordSnapshot(MeasurementSnapshot)
}

// ScopeControl is the sub-server that handles configuration and operation
// of the oscilloscope over JSON-RPC.
type ScopeControl struct {
	ctrl          *Controller
	clientUpdates chan<- ClientUpdate
	recorder      SnapshotRecorder
	captureDir    string

	mu        sync.Mutex
	synthetic SyntheticConfig
}

// NewScopeControl wires a controller to the status channel and an optional
// snapshot recorder (nil records nothing). The controller's synthetic
// descriptor is redirected through the stored synthetic configuration.
func NewScopeControl(ctrl *Controller, clientUpdates chan<- ClientUpdate, recorder SnapshotRecorder) *ScopeControl {
	s := &ScopeControl{
		ctrl:          ctrl,
		clientUpdates: clientUpdates,
		recorder:      recorder,
		synthetic:     DefaultSyntheticConfig(),
	}
	ctrl.OpenSource = func(descriptor string) (SignalSource, error) {
		if descriptor == SyntheticDescriptor {
			s.mu.Lock()
			cfg := s.synthetic
			s.mu.Unlock()
			return NewSyntheticSource(cfg), nil
		}
		link, err := OpenSerialLink(descriptor, DefaultBaudRate)
		if err != nil {
			return nil, err
		}
		return NewDeviceSource(link), nil
	}
	return s
}

// setCaptureDir sets where Capture writes trace files.
func (s *ScopeControl) setCaptureDir(dir string) { s.captureDir = dir }

// Connect opens the named port (or "synthetic") and reports status.
func (s *ScopeControl) Connect(descriptor *string, reply *bool) error {
	err := s.ctrl.Connect(*descriptor)
	*reply = (err == nil)
	s.broadcastStatus()
	return err
}

// Disconnect closes the active session.
func (s *ScopeControl) Disconnect(dummy *string, reply *bool) error {
	err := s.ctrl.Disconnect()
	*reply = (err == nil)
	s.broadcastStatus()
	return err
}

// Start begins continuous acquisition.
func (s *ScopeControl) Start(dummy *string, reply *bool) error {
	err := s.ctrl.Start()
	*reply = (err == nil)
	s.broadcastStatus()
	return err
}

// Stop ends continuous acquisition.
func (s *ScopeControl) Stop(dummy *string, reply *bool) error {
	err := s.ctrl.Stop()
	*reply = (err == nil)
	s.broadcastStatus()
	return err
}

// SingleShot arms the device for one triggered frame.
func (s *ScopeControl) SingleShot(dummy *string, reply *bool) error {
	err := s.ctrl.SingleShot()
	*reply = (err == nil)
	s.broadcastStatus()
	return err
}

// RequestFrame asks the device for a single frame on demand, without
// starting continuous acquisition.
func (s *ScopeControl) RequestFrame(dummy *string, reply *bool) error {
	err := s.ctrl.RequestFrame()
	*reply = (err == nil)
	return err
}

// SetDisplaySettings replaces the display scale/offset state.
func (s *ScopeControl) SetDisplaySettings(settings *DisplaySettings, reply *bool) error {
	err := s.ctrl.SetDisplaySettings(*settings)
	*reply = (err == nil)
	return err
}

// SetSampleRate forwards a sample-rate change to the device.
func (s *ScopeControl) SetSampleRate(hz *uint32, reply *bool) error {
	err := s.ctrl.SetSampleRate(*hz)
	*reply = (err == nil)
	return err
}

// SetTriggerMode forwards a trigger-mode change to the device.
func (s *ScopeControl) SetTriggerMode(mode *int, reply *bool) error {
	err := s.ctrl.SetTriggerMode(TriggerMode(*mode))
	*reply = (err == nil)
	return err
}

// SetTriggerEdge forwards a trigger-edge change to the device.
func (s *ScopeControl) SetTriggerEdge(edge *int, reply *bool) error {
	err := s.ctrl.SetTriggerEdge(TriggerEdge(*edge))
	*reply = (err == nil)
	return err
}

// SetTriggerLevel forwards a trigger-level change to the device.
func (s *ScopeControl) SetTriggerLevel(volts *float64, reply *bool) error {
	err := s.ctrl.SetTriggerLevel(*volts)
	*reply = (err == nil)
	return err
}

// SetProbeAttenuation forwards a probe factor change to the device.
func (s *ScopeControl) SetProbeAttenuation(factor *int, reply *bool) error {
	err := s.ctrl.SetProbeAttenuation(ProbeAttenuation(*factor))
	*reply = (err == nil)
	return err
}

// ConfigureSyntheticSource stores the generator parameters used the next
// time the synthetic descriptor is connected.
func (s *ScopeControl) ConfigureSyntheticSource(cfg *SyntheticConfig, reply *bool) error {
	if cfg.FrequencyHz < 0 || cfg.NoiseV < 0 || cfg.NSamples < 0 {
		*reply = false
		return fmt.Errorf("synthetic config rejected: negative frequency, noise, or length")
	}
	s.mu.Lock()
	s.synthetic = *cfg
	s.mu.Unlock()
	s.clientUpdates <- NewClientUpdate("SYNTHETIC", *cfg)
	*reply = true
	return nil
}

// Capture writes the latest rendered series to a .npy trace file and
// replies with its path.
func (s *ScopeControl) Capture(dummy *string, reply *string) error {
	series := s.ctrl.LatestSeries()
	if series.Empty() {
		return fmt.Errorf("no data to capture")
	}
	path, err := WriteSeriesNPY(s.captureDir, series)
	if err != nil {
		return err
	}
	*reply = path
	UpdateLogger.Printf("captured trace to %s", path)
	return nil
}

// SendAllStatus causes a broadcast containing all broadcastable status.
func (s *ScopeControl) SendAllStatus(dummy *string, reply *bool) error {
	s.broadcastStatus()
	s.mu.Lock()
	cfg := s.synthetic
	s.mu.Unlock()
	s.clientUpdates <- NewClientUpdate("SYNTHETIC", cfg)
	*reply = true
	return nil
}

func (s *ScopeControl) broadcastStatus() {
	s.clientUpdates <- NewClientUpdate("STATUS", s.ctrl.Status())
}

// watchEvents is the single consumer of controller events: each processed
// frame is published as MEASURE and SERIES updates (and recorded if a
// recorder is installed); link loss is published as LINKLOST.
func (s *ScopeControl) watchEvents() {
	for ev := range s.ctrl.Events() {
		switch ev.Kind {
		case EventFrameProcessed:
			s.clientUpdates <- NewClientUpdate("MEASURE", ev.Snapshot)
			s.clientUpdates <- NewClientUpdate("SERIES", ev.Series)
			if s.recorder != nil && !ev.Series.Empty() {
				s.recorder.RecordSnapshot(ev.Snapshot)
			}
		case EventLinkLost:
			s.clientUpdates <- NewClientUpdate("LINKLOST", struct{ Lost bool }{true})
			s.broadcastStatus()
		}
	}
}

// RunRPCServer sets up and runs a permanent JSON-RPC server around the
// given ScopeControl. Stored synthetic settings are restored from the
// config file before the listener starts.
func RunRPCServer(scopeControl *ScopeControl, portrpc int, block bool) error {
	// Load stored settings.
	var okay bool
	var cfg SyntheticConfig
	if err := viper.UnmarshalKey("synthetic", &cfg); err == nil && cfg.NSamples > 0 {
		scopeControl.ConfigureSyntheticSource(&cfg, &okay)
	}
	if dir := viper.GetString("capturedir"); dir != "" {
		scopeControl.setCaptureDir(dir)
	}

	go scopeControl.watchEvents()
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			scopeControl.broadcastStatus()
		}
	}()

	// Now launch the connection handler and accept connections.
	server := rpc.NewServer()
	if err := server.Register(scopeControl); err != nil {
		return err
	}
	port := fmt.Sprintf(":%d", portrpc)
	listener, err := net.Listen("tcp", port)
	if err != nil {
		return err
	}
	serve := func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				ProblemLogger.Printf("accept error: %v", err)
				return
			}
			UpdateLogger.Printf("new connection established")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
	if block {
		serve()
	} else {
		go serve()
	}
	return nil
}
