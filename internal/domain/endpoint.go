package domain

// DiscoveredEndpoint is a display found on the local network.
type DiscoveredEndpoint struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	ServiceType string `json:"serviceType"`
	DisplayID   string `json:"displayId,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

// Identity is the stable key used to deduplicate endpoints.
func (e DiscoveredEndpoint) Identity() string {
	if e.DisplayID != "" {
		return e.DisplayID
	}
	return e.Name
}

// Advertisement is what a display publishes about itself.
type Advertisement struct {
	DisplayID   string `json:"displayId"`
	DeviceID    string `json:"deviceId"`
	DisplayName string `json:"displayName"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Platform    string `json:"platform"`
	ServiceType string `json:"serviceType"`
	Port        int    `json:"port"`
}
