package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"laptimer/internal/config"
	"laptimer/internal/geo"
	"laptimer/internal/laptimer"
)

type pointIn struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// checkpointUpdate is one decoded change; Point nil means clear.
type checkpointUpdate struct {
	Role  laptimer.Role
	Point *geo.Point
}

var checkpointKeys = []string{"start", "sector1", "sector2"}

// decodeCheckpointsStrict parses a POST /api/checkpoints body. Keys are
// optional; an absent key leaves that checkpoint as is and an explicit null
// clears it. Unknown and duplicate keys are rejected.
func decodeCheckpointsStrict(body []byte) ([]checkpointUpdate, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	// Stream tokens to enforce strict object rules and detect duplicate keys.
	allowed := make(map[string]struct{}, len(checkpointKeys))
	for _, k := range checkpointKeys {
		allowed[k] = struct{}{}
	}
	seen := make(map[string]struct{}, len(checkpointKeys))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, errors.New("invalid json: expected object")
	}

	var out []checkpointUpdate
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return nil, errors.New("invalid json: expected string key")
		}
		if _, ok := allowed[key]; !ok {
			return nil, fmt.Errorf("invalid json: unknown key %q", key)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		role, err := laptimer.ParseRole(key)
		if err != nil {
			return nil, err
		}
		p, err := decodePoint(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, checkpointUpdate{Role: role, Point: p})
	}

	end, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok = end.(json.Delim)
	if !ok || delim != '}' {
		return nil, errors.New("invalid json: expected end of object")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("invalid json: trailing data")
	}
	return out, nil
}

func decodePoint(raw json.RawMessage) (*geo.Point, error) {
	if strings.TrimSpace(string(raw)) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var p pointIn
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid point: %w", err)
	}
	if p.Lat == nil || p.Lon == nil {
		return nil, errors.New("lat and lon are required")
	}
	if err := config.ValidatePoint(&config.PointConfig{Lat: *p.Lat, Lon: *p.Lon}); err != nil {
		return nil, err
	}
	return &geo.Point{Lat: *p.Lat, Lon: *p.Lon}, nil
}

// CheckpointsFromConfig converts the YAML form to the live form.
func CheckpointsFromConfig(c config.CheckpointsConfig) laptimer.Checkpoints {
	conv := func(p *config.PointConfig) *geo.Point {
		if p == nil {
			return nil
		}
		return &geo.Point{Lat: p.Lat, Lon: p.Lon}
	}
	return laptimer.Checkpoints{Start: conv(c.Start), Sector1: conv(c.Sector1), Sector2: conv(c.Sector2)}
}

// CheckpointsToConfig converts the live form to the YAML form.
func CheckpointsToConfig(c laptimer.Checkpoints) config.CheckpointsConfig {
	conv := func(p *geo.Point) *config.PointConfig {
		if p == nil {
			return nil
		}
		return &config.PointConfig{Lat: p.Lat, Lon: p.Lon}
	}
	return config.CheckpointsConfig{Start: conv(c.Start), Sector1: conv(c.Sector1), Sector2: conv(c.Sector2)}
}

// SettingsStore exposes the live checkpoint store over HTTP and persists
// changes to the YAML config when ConfigPath is set. Updates are serialized so
// the live store and the file never disagree after a failed save.
type SettingsStore struct {
	ConfigPath string
	Store      *laptimer.CheckpointStore

	mu sync.Mutex
}

func (s *SettingsStore) persist(c laptimer.Checkpoints) error {
	if strings.TrimSpace(s.ConfigPath) == "" {
		return nil
	}
	cfg, err := config.Load(s.ConfigPath)
	if err != nil {
		return err
	}
	cfg.Checkpoints = CheckpointsToConfig(c)
	return config.Save(s.ConfigPath, cfg)
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func (s *SettingsStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Store == nil {
			http.Error(w, "checkpoints not available", http.StatusNotImplemented)
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, s.Store.Checkpoints())
			return

		case http.MethodPost:
			if ct := strings.TrimSpace(r.Header.Get("Content-Type")); !strings.HasPrefix(ct, "application/json") {
				http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
				return
			}
			updates, err := decodeCheckpointsStrict(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			s.mu.Lock()
			defer s.mu.Unlock()

			old := s.Store.Checkpoints()
			next := old
			for _, u := range updates {
				switch u.Role {
				case laptimer.Start:
					next.Start = u.Point
				case laptimer.Sector1:
					next.Sector1 = u.Point
				case laptimer.Sector2:
					next.Sector2 = u.Point
				}
			}

			// Live first, so the very next fix sees the new lines.
			s.Store.Replace(next)
			if err := s.persist(next); err != nil {
				s.Store.Replace(old)
				http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
				return
			}
			for _, u := range updates {
				if u.Point == nil {
					log.Printf("checkpoint cleared role=%s", u.Role)
					continue
				}
				log.Printf("checkpoint updated role=%s lat=%.6f lon=%.6f", u.Role, u.Point.Lat, u.Point.Lon)
			}
			writeJSON(w, s.Store.Checkpoints())
			return

		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
