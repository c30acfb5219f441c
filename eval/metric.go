package eval

// Metric identifies one reported evaluation error.
type Metric int

const (
	MPJPE Metric = iota
	PAMPJPE
	MPVPE
)

// String returns the display name used in log lines and plot titles.
func (m Metric) String() string {
	switch m {
	case MPJPE:
		return "MPJPE"
	case PAMPJPE:
		return "PA-MPJPE"
	case MPVPE:
		return "MPVPE"
	}
	return "Unknown"
}

// Key returns the series key used in snapshots and the journal.
func (m Metric) Key() string {
	switch m {
	case MPJPE:
		return "mpjpe"
	case PAMPJPE:
		return "pa_mpjpe"
	case MPVPE:
		return "mpvpe"
	}
	return "unknown"
}
