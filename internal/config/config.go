package config

import "time"

const (
	// Sighting table
	PruneAge  = 11 * time.Minute // RPI window is 10 minutes, one extra for clock skew
	RecentAge = 30 * time.Second // Entries younger than this count as "nearby"

	// Exposure Notification advertisement layout
	ENServiceUUID16 = 0xFD6F // Service UUID carrying RPI + AEM
	RPILength       = 16     // Rolling proximity identifier (bytes)
	AEMLength       = 4      // Associated encrypted metadata (bytes)

	// Upstream RSSI smoothing
	RSSIWindow = 20 // Samples kept per identity for the running average

	// Loop timing
	EvictInterval  = 5 * time.Second  // How often to run eviction without new batches
	StatusInterval = 30 * time.Second // How often to log the nearby count

	// Demo mode
	ScanCycle        = 1100 * time.Millisecond // One batch per cycle
	RotationInterval = 10 * time.Minute        // RPI rotation period of simulated phones
	LocationInterval = 15 * time.Second        // Simulated location fix cadence
	DemoDeviceMin    = 8                       // Minimum simulated phones
	DemoDeviceMax    = 12                      // Maximum simulated phones

	// App
	AppName    = "EN-SNIFFER"
	AppVersion = "1.0"
)
