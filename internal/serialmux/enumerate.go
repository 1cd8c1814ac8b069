package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a port found on the system.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// Enumerator lists the serial ports present on the system.
type Enumerator func() ([]PortInfo, error)

// ListPorts enumerates ports with their USB identity where available.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}

// USBID is a vendor and product id pair in hex, e.g. {"0483", "5740"}.
type USBID struct {
	VID string
	PID string
}

// Match reports whether p is a USB port with this id.
func (id USBID) Match(p PortInfo) bool {
	return p.IsUSB && strings.EqualFold(p.VID, id.VID) && strings.EqualFold(p.PID, id.PID)
}

// FilterUSB returns the ports matching any of ids.
func FilterUSB(ports []PortInfo, ids ...USBID) []PortInfo {
	var out []PortInfo
	for _, p := range ports {
		for _, id := range ids {
			if id.Match(p) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
