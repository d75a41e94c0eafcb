// Command climatectl runs the home climate controller: the radio link
// to the sensors and mains-switched appliances, the regulation engine
// that decides when to turn them on and off, and the live dashboard
// push channel.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gokrazy/gokrazy"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"

	"github.com/climateguard/climateguard/internal/bus"
	"github.com/climateguard/climateguard/internal/device"
	"github.com/climateguard/climateguard/internal/domain"
	"github.com/climateguard/climateguard/internal/gpio"
	"github.com/climateguard/climateguard/internal/radio"
	"github.com/climateguard/climateguard/internal/serial"
	"github.com/climateguard/climateguard/internal/store"
	"github.com/climateguard/climateguard/internal/ui"
)

var (
	serialPort = flag.String("serial_port",
		"/dev/ttyAMA0",
		"path to the serial port connected to the radio adapter")

	listenAddress = flag.String("listen",
		":8013",
		"host:port to listen on for the dashboard websocket and /metrics")

	storePath = flag.String("store_path",
		"/perm/climateguard.db",
		"path to the SQLite database file")

	controllerAddress = flag.Uint("controller_address",
		0x00,
		"this controller's own radio address")

	resetPin = flag.Uint("reset_gpio_pin",
		17,
		"gpiochip0 offset wired to the radio adapter's reset line")

	hmacSecretEnv = flag.String("hmac_secret_env",
		"CLIMATEGUARD_HMAC_SECRET",
		"name of the environment variable holding the shared HMAC secret")
)

// realClock adapts time.Now to device.Clock.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func main() {
	flag.Parse()

	secret := os.Getenv(*hmacSecretEnv)
	if secret == "" {
		log.Fatalf("environment variable %s must hold the shared HMAC secret", *hmacSecretEnv)
	}

	gokrazy.WaitForClock()

	log.Printf("opening serial port %s", *serialPort)
	uart, err := os.OpenFile(*serialPort, os.O_EXCL|os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0600)
	if err != nil {
		log.Fatal(err)
	}
	if err := serial.Configure(uart.Fd()); err != nil {
		log.Fatal(err)
	}

	log.Printf("resetting radio adapter via GPIO pin %d", *resetPin)
	if err := gpio.ResetRadioAdapter(uart.Fd(), uint32(*resetPin)); err != nil {
		log.Fatal(err)
	}

	// uart stays non-blocking: the radio worker relies on
	// SetReadDeadline, which requires the runtime poller to own the fd.
	if err := syscall.SetNonblock(int(uart.Fd()), true); err != nil {
		log.Fatal(err)
	}

	db, err := store.Open(*storePath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	stop := &bus.StopSignal{}
	commands := bus.NewCommandQueue()
	outbound := bus.NewOutboundQueue()
	hub := ui.NewHub(commands)

	clock := realClock{}
	devices := map[domain.DeviceKind]*device.Device{
		domain.Heating: device.New(domain.Heating, byte(*controllerAddress), clock, outbound, hub),
		domain.Cooling: device.New(domain.Cooling, byte(*controllerAddress), clock, outbound, hub),
	}

	executor := &bus.Executor{
		Store:     db,
		Commands:  commands,
		Outbound:  outbound,
		Publisher: hub,
		Clock:     clock,
		Devices:   devices,
		MyAddress: byte(*controllerAddress),
		Stop:      stop,
	}

	radioWorker := &radio.Worker{
		Port:      uart,
		Secret:    []byte(secret),
		MyAddress: byte(*controllerAddress),
		Store:     db,
		Commands:  commands,
		Outbound:  outbound,
		Stop:      stop,
	}

	go executor.Run()
	go radioWorker.Run()
	go hub.Run(stop)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeHTTP)
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: *listenAddress, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	log.Printf("climatectl running, listening on %s", *listenAddress)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Printf("shutting down")
	stop.Set()
	if err := server.Close(); err != nil {
		log.Printf("closing http server: %v", err)
	}
}
