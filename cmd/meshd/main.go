// Command meshd wires the Connection Subsystem into a runnable node: a
// handshake server accepting inbound connections, a Mesh Manager reacting
// to discovery events, and a Prometheus metrics endpoint. Service discovery
// itself, local MIDI I/O, and the routing-rule engine are external
// collaborators and are not implemented here; this entrypoint only wires
// the pieces this module owns.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oletizi/midimesh/internal/clock"
	"github.com/oletizi/midimesh/internal/connection"
	"github.com/oletizi/midimesh/internal/discovery"
	"github.com/oletizi/midimesh/internal/handshake"
	"github.com/oletizi/midimesh/internal/mesh"
	"github.com/oletizi/midimesh/internal/metrics"
)

func main() {
	nodeName := flag.String("name", "meshd", "this node's display name")
	listenIP := flag.String("ip", "127.0.0.1", "local IP address to bind and advertise")
	httpPort := flag.Int("http-port", 7400, "handshake control-plane port (meshd opens no NRT TCP listener at http-port+1)")
	metricsAddr := flag.String("metrics-addr", ":9400", "Prometheus /metrics listen address (empty to disable)")
	protocolVersion := flag.String("protocol-version", "1.0", "advertised protocol version")
	ntpServer := flag.String("ntp-server", "", "NTP server to poll for a cross-node clock offset correction (empty disables NTP correction, using the raw monotonic clock)")
	ntpInterval := flag.Duration("ntp-poll-interval", 60*time.Second, "how often to re-query -ntp-server")
	flag.Parse()

	local := discovery.NodeInfo{
		ID:              uuid.New(),
		Name:            *nodeName,
		Hostname:        hostnameOrEmpty(),
		IP:              *listenIP,
		HTTPPort:        *httpPort,
		UDPPort:         *httpPort, // advertised only; each connection negotiates its own ephemeral UDP port at handshake
		ProtocolVersion: *protocolVersion,
	}
	if !local.Valid() {
		log.Fatalf("[meshd] invalid local node configuration: %+v", local)
	}

	reg := prometheus.NewRegistry()
	metr := metrics.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var clockSource clock.Source
	if *ntpServer != "" {
		corrected := clock.NewNTPCorrected(*ntpServer, *ntpInterval, 0)
		go corrected.Run(ctx)
		clockSource = corrected
		log.Printf("[clock] correcting outbound timestamps against %s every %s", *ntpServer, *ntpInterval)
	}

	manager := mesh.New(ctx, local, mesh.Options{
		Metrics: metr,
		Clock:   clockSource,
		OnConnectionFailed: func(node discovery.NodeInfo, reason string) {
			log.Printf("[mesh] connection to %s (%s) failed: %s", node.Name, node.ID, reason)
		},
		OnNodeDisconnected: func(id uuid.UUID, reason string) {
			log.Printf("[mesh] node %s disconnected: %s", id, reason)
		},
		OnMidi: func(msg connection.MidiMessage) {
			log.Printf("[mesh] midi received: device=%d bytes=%d", msg.DeviceID, len(msg.Bytes))
		},
	})

	srv := handshake.New(func(req handshake.Request) (handshake.Response, error) {
		log.Printf("[handshake] inbound connect from node_id=%s name=%s", req.NodeID, req.NodeName)
		return handshake.Response{UDPEndpoint: net.JoinHostPort(local.IP, strconv.Itoa(local.UDPPort))}, nil
	})

	addr := net.JoinHostPort(local.IP, strconv.Itoa(local.HTTPPort))
	go func() {
		log.Printf("[handshake] listening on %s", addr)
		if err := srv.Start(addr); err != nil {
			log.Printf("[handshake] server stopped: %v", err)
		}
	}()

	if *metricsAddr != "" {
		go func() {
			log.Printf("[metrics] listening on %s", *metricsAddr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("[metrics] server stopped: %v", err)
			}
		}()
	}

	log.Printf("[meshd] node %s (%s) ready at %s", local.Name, local.ID, addr)

	go logStatistics(ctx, manager)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Printf("[meshd] shutting down")
	cancel()
	_ = srv.Shutdown()
	time.Sleep(100 * time.Millisecond) // let in-flight goroutines observe ctx cancellation
}

func logStatistics(ctx context.Context, manager *mesh.Manager) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := manager.Statistics()
			log.Printf("[mesh] connected=%d failed=%d devices=%d heartbeats_sent=%d heartbeat_timeouts=%d",
				s.Pool.Connected, s.Pool.Failed, s.TotalDevices, s.HeartbeatsSent, s.HeartbeatTimeouts)
		}
	}
}

func hostnameOrEmpty() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
