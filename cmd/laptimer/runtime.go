package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"laptimer/internal/captive"
	"laptimer/internal/config"
	"laptimer/internal/gps"
	"laptimer/internal/indicator"
	"laptimer/internal/laptimer"
	"laptimer/internal/mqtt"
	"laptimer/internal/sim"
	"laptimer/internal/udp"
	"laptimer/internal/web"
	"laptimer/internal/wifi"
)

var setupAPFn = wifi.SetupAP

type runtime struct {
	cfg config.Config

	logs     *web.LogBuffer
	status   *web.Status
	hub      *web.LiveHub
	store    *laptimer.CheckpointStore
	settings *web.SettingsStore
	session  *laptimer.Session

	gpsSvc  *gps.Service
	mqttPub *mqtt.Publisher
	udpSink *udp.Broadcaster
	ind     *indicator.Service
	dns     *captive.Server

	wg sync.WaitGroup
}

// newRuntime wires the timer to its sinks and starts the GPS reader and the
// optional collaborators. Only configuration errors are fatal; a collaborator
// that fails to start is logged and left out.
func newRuntime(ctx context.Context, cfg config.Config, configPath string, logs *web.LogBuffer) (*runtime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}
	policy, err := laptimer.ParseReentryPolicy(c.Timing.Reentry)
	if err != nil {
		return nil, err
	}

	r := &runtime{
		cfg:    c,
		logs:   logs,
		status: web.NewStatus(),
		store:  laptimer.NewCheckpointStore(web.CheckpointsFromConfig(c.Checkpoints)),
	}
	r.hub = web.NewLiveHub(r.status)
	r.settings = &web.SettingsStore{ConfigPath: configPath, Store: r.store}

	if c.WiFi.Enable {
		if err := setupAPFn(c.WiFi.SSID, c.WiFi.Passphrase, c.WiFi.IP); err != nil {
			log.Printf("wifi ap setup failed: %v", err)
		} else {
			log.Printf("wifi ap up ssid=%q ip=%s", c.WiFi.SSID, c.WiFi.IP)
		}
	}

	sinks := []laptimer.Sink{r.status, r.hub}

	if c.MQTT.Enable {
		p, err := mqtt.New(mqtt.Config{Broker: c.MQTT.Broker, ClientID: c.MQTT.ClientID, Topic: c.MQTT.Topic})
		if err != nil {
			log.Printf("mqtt init failed: %v", err)
		} else {
			r.mqttPub = p
			sinks = append(sinks, p)
		}
	}

	if c.UDP.Enable {
		b, err := udp.NewBroadcaster(c.UDP.Dest)
		if err != nil {
			log.Printf("udp init failed dest=%s: %v", c.UDP.Dest, err)
		} else {
			log.Printf("udp enabled dest=%s", c.UDP.Dest)
			r.udpSink = b
			sinks = append(sinks, b)
		}
	}

	if c.Indicator.Enable {
		svc := indicator.New(indicator.Config{Enable: true, Pin: c.Indicator.Pin, Pulse: c.Indicator.Pulse})
		if err := svc.Start(ctx); err != nil {
			log.Printf("indicator init failed: %v", err)
		} else {
			r.ind = svc
			sinks = append(sinks, svc)
		}
	}

	timer := laptimer.NewTimer(r.store, laptimer.Options{ToleranceM: c.Timing.ToleranceM, Reentry: policy})
	r.session = laptimer.NewSession(timer, sinks...)

	r.gpsSvc = gps.New(gps.Config{
		Enable:         c.GPS.Enable,
		Source:         c.GPS.Source,
		Device:         c.GPS.Device,
		Baud:           c.GPS.Baud,
		Path:           c.GPS.Path,
		ReplayInterval: c.GPS.ReplayInterval,
	}, r.session)

	r.status.SetSources(web.Sources{
		GPS:         r.gpsSvc.Snapshot,
		Session:     r.session.Snapshot,
		Checkpoints: r.store.Checkpoints,
	})

	if err := r.startGPS(ctx); err != nil {
		// The UI stays up so checkpoints can still be edited.
		log.Printf("gps init failed: %v", err)
	}

	if c.Captive.Enable {
		srv, err := captive.New(c.Captive.Listen, c.Captive.IP)
		if err == nil {
			err = srv.Listen()
		}
		if err != nil {
			log.Printf("captive dns init failed: %v", err)
		} else {
			r.dns = srv
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				if err := srv.Serve(ctx); err != nil {
					log.Printf("captive dns stopped: %v", err)
				}
			}()
		}
	}

	return r, nil
}

func (r *runtime) startGPS(ctx context.Context) error {
	if r.cfg.GPS.Source != "sim" || !r.cfg.GPS.Enable {
		return r.gpsSvc.Start(ctx)
	}
	cps := r.store.Checkpoints()
	tr, err := sim.CheckpointTrack(cps.Start, cps.Sector1, cps.Sector2, r.cfg.GPS.SimSpeedKmh)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("track(%.0fm@%.0fkmh)", tr.Length(), tr.SpeedKmh)
	return r.gpsSvc.StartReader(ctx, name, sim.Open(ctx, tr, r.cfg.GPS.SimRate))
}

func (r *runtime) Handler() http.Handler {
	return web.Handler(r.status, r.settings, r.logs, r.hub)
}

func (r *runtime) Status() web.StatusSnapshot {
	return r.status.Snapshot(time.Now().UTC())
}

// Close stops the GPS reader first so no event reaches a closed sink.
func (r *runtime) Close() {
	if r == nil {
		return
	}
	if r.gpsSvc != nil {
		r.gpsSvc.Close()
	}
	if r.dns != nil {
		_ = r.dns.Close()
	}
	r.wg.Wait()
	if r.ind != nil {
		r.ind.Close()
	}
	if r.udpSink != nil {
		_ = r.udpSink.Close()
	}
	if r.mqttPub != nil {
		r.mqttPub.Close()
	}
}
