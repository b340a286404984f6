// Package directory resolves which cameras belong to which business
// location and which zones each camera watches. Entries come from
// configuration, which has already rejected malformed zones.
package directory

import (
	"strings"

	"crowdpulse/internal/config"
	"crowdpulse/internal/model"
)

type Static struct {
	order          []string
	devices        map[string][]string
	deviceLocation map[string]string
	zones          map[string][]model.Zone
}

func FromConfig(cfg config.DirectoryConfig) *Static {
	s := &Static{
		devices:        make(map[string][]string),
		deviceLocation: make(map[string]string),
		zones:          make(map[string][]model.Zone),
	}
	for _, loc := range cfg.Locations {
		id := strings.TrimSpace(loc.ID)
		if id == "" {
			continue
		}
		if _, seen := s.devices[id]; !seen {
			s.order = append(s.order, id)
			s.devices[id] = nil
		}
		for _, dev := range loc.Devices {
			dev = strings.TrimSpace(dev)
			if dev == "" {
				continue
			}
			if _, taken := s.deviceLocation[dev]; taken {
				continue
			}
			s.deviceLocation[dev] = id
			s.devices[id] = append(s.devices[id], dev)
		}
	}
	for _, cam := range cfg.Cameras {
		camID := strings.TrimSpace(cam.ID)
		if camID == "" {
			continue
		}
		for _, z := range cam.Zones {
			s.zones[camID] = append(s.zones[camID], model.Zone{
				CameraID: camID,
				ZoneID:   z.ID,
				Name:     z.Name,
				Polygon:  z.Polygon,
			})
		}
	}
	return s
}

// DevicesForLocation returns a copy; an unknown location has no devices.
func (s *Static) DevicesForLocation(locationID string) []string {
	devs := s.devices[locationID]
	if len(devs) == 0 {
		return nil
	}
	return append([]string(nil), devs...)
}

// Locations lists every configured location, including ones without cameras.
func (s *Static) Locations() []string {
	return append([]string(nil), s.order...)
}

func (s *Static) LocationForDevice(deviceID string) (string, bool) {
	id, ok := s.deviceLocation[deviceID]
	return id, ok
}

func (s *Static) ZonesForCamera(cameraID string) []model.Zone {
	return s.zones[cameraID]
}
