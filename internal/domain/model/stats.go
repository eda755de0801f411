package model

import "time"

// RegistryStats summarises what one node holds.
type RegistryStats struct {
	ServerID         string         `json:"serverId"`
	TotalConnections int            `json:"totalConnections"`
	ByType           map[string]int `json:"byType"`
	PendingActions   int            `json:"pendingActions"`
	Uptime           time.Duration  `json:"uptime"`
}
