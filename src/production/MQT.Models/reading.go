package mqtmodels

// Defaults applied when an inbound payload omits a field.
const (
	DefaultDevice = "unknown"
	DefaultStatus = "unknown"
	DefaultValue  = 0.0
)

// Sentinel row values recorded for payloads that cannot be decoded.
const (
	RawDevice     = "raw"
	NonJSONStatus = "non-json"
)

// DeviceReading is one row of device_data. ID is assigned by the store and
// is zero until the row has been inserted.
type DeviceReading struct {
	ID        int64   `json:"id,omitempty"`
	Device    string  `json:"device"`
	Status    string  `json:"status"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// NewSentinelReading builds the placeholder row that marks an undecodable
// message received at ts.
func NewSentinelReading(ts string) DeviceReading {
	return DeviceReading{
		Device:    RawDevice,
		Status:    NonJSONStatus,
		Value:     0,
		Timestamp: ts,
	}
}
