package main

import (
	"os"
)

// getProcessInfo returns process information for logging
func getProcessInfo() map[string]interface{} {
	return map[string]interface{}{
		"pid":      os.Getpid(),
		"hostname": getHostname(),
		"args":     os.Args,
	}
}

// getHostname safely gets hostname
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
