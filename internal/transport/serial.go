package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var ErrNoPort = errors.New("transport: no suitable serial port found")

// USB ids of the Arduino boards the transceiver shield ships on.
var knownBoards = []struct{ VID, PID string }{
	{"2341", "0042"},
	{"2341", "0043"},
}

// SerialConfig describes how to open the module's UART.
type SerialConfig struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// OpenSerial opens the UART with a bounded read timeout so that polling reads
// return 0 bytes instead of blocking.
func OpenSerial(cfg SerialConfig) (Link, error) {
	device := cfg.Device
	if device == "" {
		detected, err := DetectPort()
		if err != nil {
			return nil, err
		}
		device = detected
	}

	port, err := serial.Open(device, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", device, err)
	}
	return port, nil
}

// PortInfo is one enumerated serial port.
type PortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Product string
	Known   bool
}

func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:    d.Name,
			USB:     d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Product: d.Product,
			Known:   d.IsUSB && isKnownBoard(d.VID, d.PID),
		})
	}
	return ports, nil
}

// DetectPort returns the first USB port that matches a known board.
func DetectPort() (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.Known {
			return p.Name, nil
		}
	}
	return "", ErrNoPort
}

func isKnownBoard(vid, pid string) bool {
	for _, b := range knownBoards {
		if strings.EqualFold(vid, b.VID) && strings.EqualFold(pid, b.PID) {
			return true
		}
	}
	return false
}
