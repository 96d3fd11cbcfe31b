package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

// cfgPico is a three-axis router: X and Y home to the positive end on
// GP2 and GP3, Z homes up on GP4. The A-side Y gang sits on a PCA9539.
const cfgPico = `{
  "machine": {
    "axes": [
      {"name": "X", "max_travel_mm": 300,
       "homing": {"positive_direction": true, "seek_mm_per_min": 2000, "feed_mm_per_min": 100, "pulloff_mm": 1.5},
       "gangs": [{"pin": 2, "active_low": true, "pull": "up"}]},
      {"name": "Y", "max_travel_mm": 400,
       "homing": {"positive_direction": true, "seek_mm_per_min": 2000, "feed_mm_per_min": 100, "pulloff_mm": 1.5},
       "gangs": [{"pin": 3, "active_low": true, "pull": "up"},
                 {"pin": 0, "expander": "exp0", "active_low": true}]},
      {"name": "Z", "max_travel_mm": 80,
       "homing": {"positive_direction": true, "seek_mm_per_min": 800, "feed_mm_per_min": 60, "pulloff_mm": 1.0},
       "gangs": [{"pin": 4, "active_low": true, "pull": "up"}]}
    ],
    "limits": {
      "hard_limits": true,
      "soft_limits": true,
      "debounce_ms": 10,
      "locate_cycles": 1,
      "homing_cycles": ["Z", "XY"],
      "homing_init_lock": true
    },
    "expanders": [
      {"id": "exp0", "type": "pca9539", "bus": "i2c0", "addr": 116, "int_pin": 9}
    ]
  },
  "heartbeat": {
    "interval": 2
  }
}`

// cfgBench is a single-axis rig for host runs against the simulator.
const cfgBench = `{
  "machine": {
    "axes": [
      {"name": "X", "max_travel_mm": 200,
       "homing": {"positive_direction": false, "seek_mm_per_min": 1200, "feed_mm_per_min": 120, "pulloff_mm": 2},
       "gangs": [{"pin": 2}]}
    ],
    "limits": {"hard_limits": true, "soft_limits": true}
  },
  "heartbeat": {
    "interval": 5
  }
}`

var embeddedConfigs = map[string][]byte{
	"pico":  []byte(cfgPico),
	"bench": []byte(cfgBench),
}
