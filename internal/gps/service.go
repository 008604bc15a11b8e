package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FixHandler consumes valid fixes in receipt order. It is called from the
// single ingestion goroutine and must not block.
type FixHandler interface {
	HandleFix(fix Fix)
}

// FixHandlerFunc adapts a function to FixHandler.
type FixHandlerFunc func(fix Fix)

func (f FixHandlerFunc) HandleFix(fix Fix) { f(fix) }

// Config controls the GPS reader.
//
// Source "serial" reads a USB/UART receiver; Device may be empty to
// auto-detect. Source "file" replays an NMEA log from Path, pacing lines by
// ReplayInterval.
type Config struct {
	Enable bool

	Source string

	Device string
	Baud   int

	Path           string
	ReplayInterval time.Duration
}

type Snapshot struct {
	Enabled bool   `json:"enabled"`
	Valid   bool   `json:"valid"`
	Source  string `json:"source,omitempty"`
	Device  string `json:"device,omitempty"`
	Baud    int    `json:"baud,omitempty"`

	LatDeg   float64  `json:"lat_deg,omitempty"`
	LonDeg   float64  `json:"lon_deg,omitempty"`
	SpeedKmh *float64 `json:"speed_kmh,omitempty"`

	Sentences uint64 `json:"sentences"`
	Fixes     uint64 `json:"fixes"`
	Void      uint64 `json:"void"`
	Rejected  uint64 `json:"rejected"`

	LastFixUTC string `json:"last_fix_utc,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

type Service struct {
	cfg     Config
	handler FixHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Snapshot

	mu     sync.Mutex
	closer io.Closer
}

func New(cfg Config, handler FixHandler) *Service {
	cfg.Source = normalizeSource(cfg.Source)
	s := &Service{cfg: cfg, handler: handler}
	s.last.Store(Snapshot{Enabled: cfg.Enable, Source: cfg.Source, Device: cfg.Device, Baud: cfg.Baud})
	return s
}

func normalizeSource(src string) string {
	src = strings.ToLower(strings.TrimSpace(src))
	if src == "" {
		return "serial"
	}
	return src
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	switch s.cfg.Source {
	case "serial":
		return s.startSerialLocked(ctx)
	case "file":
		return s.startFileLocked(ctx)
	case "sim":
		return fmt.Errorf("gps: source %q is fed through StartReader", s.cfg.Source)
	default:
		return fmt.Errorf("gps: unknown source %q", s.cfg.Source)
	}
}

func (s *Service) startSerialLocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			s.setErrorLocked("gps auto-detect failed: no /dev/ttyACM*, /dev/ttyUSB* or /dev/serial0 found")
			return fmt.Errorf("gps auto-detect failed")
		}
	}
	baud := s.cfg.Baud
	if baud == 0 {
		baud = 9600
	}

	port, err := openSerial(device, baud)
	if err != nil {
		s.setErrorLocked(fmt.Sprintf("gps open failed device=%s baud=%d: %v", device, baud, err))
		return err
	}
	s.closer = port

	s.last.Store(Snapshot{Enabled: true, Source: "serial", Device: device, Baud: baud})
	log.Printf("gps enabled source=serial device=%s baud=%d", device, baud)
	s.spawnLocked(ctx, port, 0)
	return nil
}

func (s *Service) startFileLocked(ctx context.Context) error {
	path := strings.TrimSpace(s.cfg.Path)
	if path == "" {
		return fmt.Errorf("gps: file source requires a path")
	}
	f, err := os.Open(path)
	if err != nil {
		s.setErrorLocked(fmt.Sprintf("gps open failed path=%s: %v", path, err))
		return err
	}
	s.closer = f

	s.last.Store(Snapshot{Enabled: true, Source: "file", Device: path})
	log.Printf("gps enabled source=file path=%s interval=%s", path, s.cfg.ReplayInterval)
	s.spawnLocked(ctx, f, s.cfg.ReplayInterval)
	return nil
}

// StartReader runs the ingestion loop on a stream opened by the caller, such
// as the track simulator. r is closed by Close.
func (s *Service) StartReader(ctx context.Context, name string, r io.ReadCloser) error {
	if !s.cfg.Enable {
		_ = r.Close()
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		_ = r.Close()
		return fmt.Errorf("gps: already started")
	}
	s.closer = r
	s.last.Store(Snapshot{Enabled: true, Source: s.cfg.Source, Device: name})
	log.Printf("gps enabled source=%s device=%s", s.cfg.Source, name)
	s.spawnLocked(ctx, r, 0)
	return nil
}

func (s *Service) spawnLocked(ctx context.Context, r io.ReadCloser, pace time.Duration) {
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = r.Close() }()

		err := s.Run(childCtx, r, pace)
		if err != nil && childCtx.Err() == nil {
			s.setError(fmt.Sprintf("gps read stopped: %v", err))
			log.Printf("gps read stopped: %v", err)
		}
	}()
}

// Run reads r line by line until EOF, a read error, or ctx is done. Each line
// is fully processed, including the handler call, before the next is read.
// A positive pace sleeps between lines.
func (s *Service) Run(ctx context.Context, r io.Reader, pace time.Duration) error {
	lr := newLineReader(r, MaxSentenceLen)
	st := newIngestState(s.Snapshot())
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := lr.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if line == "" {
			continue
		}

		if perr := s.ingest(st, time.Now().UTC(), line); perr != nil && !errors.Is(perr, ErrInvalidFix) {
			// Keep the last error only; bad lines are routine on noisy links.
			st.snap.LastError = perr.Error()
		}
		s.last.Store(st.snapshot())

		if pace > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pace):
			}
		}
	}
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	return v.(Snapshot)
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.Snapshot()
	cur.LastError = msg
	s.last.Store(cur)
}

func autoDetectDevice() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	candidates = append(candidates, "/dev/serial0")
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
