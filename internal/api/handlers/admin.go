package handlers

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/synapsr/proxywarp/internal/api/models"
	"github.com/synapsr/proxywarp/internal/directory"
)

// Diagnostic returns process and directory state. Debug only.
func (h *Handler) Diagnostic(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := models.MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := models.CPUStats{NumCPU: runtime.NumCPU()}
	if cpuPercent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuStats.UsedPercent = cpuPercent[0]
		cpuStats.IdlePercent = 100.0 - cpuPercent[0]
	}

	backup := h.directory.BackupSnapshot()
	c.JSON(http.StatusOK, models.DiagnosticResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		GoRoutines:    runtime.NumGoroutine(),
		CPU:           cpuStats,
		Memory:        memStats,
		Directory: models.DirectoryStats{
			Entries:     h.directory.Len(),
			BackupSize:  backup.Size,
			FromFile:    backup.FromFile,
			FromRuntime: backup.FromRuntime,
			LastSave:    h.directory.LastSave(),
			LastLoad:    h.directory.LastLoad(),
		},
		BaseDomain: h.cfg.Server.BaseDomain,
		Port:       h.cfg.Server.Port,
		Debug:      h.cfg.Server.Debug,
		DBFile:     h.cfg.Directory.DBFile,
	})
}

// TestConnection probes a domain over DNS, HTTP, and HTTPS under the admin
// probe watchdog so a stuck upstream cannot monopolise the connection.
func (h *Handler) TestConnection(c *gin.Context) {
	domain := directory.NormalizeDomain(c.Query("domain"))
	if !directory.ValidDomain(domain) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "missing or invalid domain parameter"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Timeouts.AdminProbe())
	defer cancel()

	start := time.Now()
	resp := models.ConnectionTestResponse{Domain: domain}

	addrs, err := net.DefaultResolver.LookupHost(ctx, domain)
	if err != nil {
		resp.DNS.Error = err.Error()
	} else {
		resp.DNS.OK = true
		resp.DNS.Addresses = addrs
	}

	resp.HTTP = h.probe(ctx, "http://"+domain+"/")
	resp.HTTPS = h.probe(ctx, "https://"+domain+"/")
	resp.ElapsedMS = time.Since(start).Milliseconds()

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) probe(ctx context.Context, target string) models.ProbeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return models.ProbeResult{Error: err.Error()}
	}
	req.Header.Set("User-Agent", h.cfg.Server.UserAgent)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.ProbeResult{Error: err.Error()}
	}
	defer res.Body.Close()
	return models.ProbeResult{OK: true, Status: res.StatusCode}
}

// ReloadTokens forces a synchronous directory reload. Debug only.
func (h *Handler) ReloadTokens(c *gin.Context) {
	count := h.directory.ForceReload()
	h.logger.Info("token directory reloaded via admin", "entries", count)
	c.JSON(http.StatusOK, models.ReloadResponse{Status: "ok", Entries: count})
}

// AddTestToken forces allocation of a token for a domain. Debug only.
func (h *Handler) AddTestToken(c *gin.Context) {
	domain := directory.NormalizeDomain(c.Query("domain"))
	domain = strings.TrimPrefix(domain, "www.")
	if !directory.ValidDomain(domain) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "missing or invalid domain parameter"})
		return
	}

	token := h.directory.TokenForDomain(domain, "")
	c.JSON(http.StatusOK, models.AddTokenResponse{
		Token:  token,
		Domain: domain,
		Proxy:  h.rewriter.ProxyURL(token, "/"),
	})
}
