package models

import "time"

// MemoryStats reports system memory usage.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// CPUStats reports system CPU usage.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// DirectoryStats reports token directory state.
type DirectoryStats struct {
	Entries     int       `json:"entries"`
	BackupSize  int       `json:"backup_size"`
	FromFile    int       `json:"backup_from_file"`
	FromRuntime int       `json:"backup_from_runtime"`
	LastSave    time.Time `json:"last_save"`
	LastLoad    time.Time `json:"last_load"`
}

// DiagnosticResponse is returned by GET /admin/diagnostic.
type DiagnosticResponse struct {
	Uptime        string         `json:"uptime"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     time.Time      `json:"start_time"`
	GoRoutines    int            `json:"goroutines"`
	CPU           CPUStats       `json:"cpu"`
	Memory        MemoryStats    `json:"memory"`
	Directory     DirectoryStats `json:"directory"`
	BaseDomain    string         `json:"base_domain"`
	Port          int            `json:"port"`
	Debug         bool           `json:"debug"`
	DBFile        string         `json:"db_file"`
}

// ProbeResult is one leg of a connection test.
type ProbeResult struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// DNSProbeResult is the DNS leg of a connection test.
type DNSProbeResult struct {
	OK        bool     `json:"ok"`
	Addresses []string `json:"addresses,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ConnectionTestResponse is returned by GET /admin/test-connection.
type ConnectionTestResponse struct {
	Domain    string         `json:"domain"`
	DNS       DNSProbeResult `json:"dns"`
	HTTP      ProbeResult    `json:"http"`
	HTTPS     ProbeResult    `json:"https"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

// ReloadResponse is returned by GET /admin/reload-tokens.
type ReloadResponse struct {
	Status  string `json:"status"`
	Entries int    `json:"entries"`
}

// AddTokenResponse is returned by GET /admin/add-test-token.
type AddTokenResponse struct {
	Token  string `json:"token"`
	Domain string `json:"domain"`
	Proxy  string `json:"proxy"`
}
