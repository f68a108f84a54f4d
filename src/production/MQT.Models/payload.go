package mqtmodels

// DevicePayload is the message published on a fixed topic.
type DevicePayload struct {
	Device    string  `json:"device"`
	Status    string  `json:"status"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// SensorPayload is the message published by the simulated sensor mode on
// sensors/<location>/<type>.
type SensorPayload struct {
	SensorID  string  `json:"sensor_id"`
	Type      string  `json:"type"`
	Location  string  `json:"location"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Timestamp string  `json:"timestamp"`
}
