package types

// QueueConfig holds the configuration for a queue in the catalog
type QueueConfig struct {
	Name      string `json:"name" yaml:"name"`
	SLTarget  int    `json:"slTarget" yaml:"sl_target"`   // target percentage (e.g., 80)
	SLSeconds int    `json:"slSeconds" yaml:"sl_seconds"` // threshold in seconds (e.g., 20)
}

// DefaultQueueConfig returns the catalog entry used when a queue is only named
func DefaultQueueConfig(name string) QueueConfig {
	return QueueConfig{Name: name, SLTarget: 80, SLSeconds: 20}
}
