// Package config holds the static parameters of a harness run.
//
// Cluster describes the fleet (size, ports, endowment, storage, node
// executable) and Timing names every advisory delay a scenario relies on.
// Both are immutable once a run starts. Validation failures are reported as
// *Error values matching ErrConfiguration.
//
// Configuration files are YAML or JSON, chosen by extension. Only the keys
// present in a file override the defaults:
//
//	cluster:
//	  node_count: 3
//	  base_port: 10000
//	  resource_endowment: 1000
//	  storage_root: storage_folder
//	  command: [java, -jar, oilwells.jar]
//	timing:
//	  settle_delay: 10s
//	  teardown_grace: 1s
package config
