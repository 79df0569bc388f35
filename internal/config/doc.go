// Package config loads the shmctl configuration file.
//
// The file is YAML and every section is optional:
//
//	thresholds:
//	  min_vehicles: 15
//	  min_passes: 40
//	  min_time_spread_days: 2
//	  min_sensor_agreement: 0.85
//	  allowed_types: [lane_geometry, turn_restriction, speed_advisory]
//	  max_delta:
//	    lane_geometry: 3.0
//	gated_stages: [silent, active]
//	ttl_days:
//	  speed_advisory: 7
//	distribution:
//	  success_rate: 99.9
//	  avg_latency_ms: 280
//	audit:
//	  syslog: true
//	  facility: local0
//	log:
//	  level: info
//	  format: json
//
// The path comes from --config, then $SHM_CONFIG, then
// $XDG_CONFIG_HOME/shmctl/config.yaml. Fields are checked with
// go-playground/validator struct tags and unknown keys are rejected.
package config
