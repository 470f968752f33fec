package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/imagehub/internal/host"
	"github.com/any-hub/imagehub/internal/server"
	"github.com/any-hub/imagehub/internal/version"
)

// clearTimeout 限制 DELETE /-/cache 等待磁盘清空的时长。
const clearTimeout = 30 * time.Second

// RegisterDiagnosticsRoutes 暴露 /-/status 与缓存管理接口，供运维查询与手动清理。
func RegisterDiagnosticsRoutes(app *fiber.App, registry *server.Registry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(buildStatus(registry))
	})

	app.Post("/-/cache/sweep", func(c fiber.Ctx) error {
		removed := registry.Cache.CleanExpiredDiskSync()
		if removed == nil {
			removed = []string{}
		}
		return c.JSON(fiber.Map{"removed": removed})
	})

	app.Post("/-/cache/memory-warning", func(c fiber.Ctx) error {
		host.SimulateMemoryWarning(registry.Platform)
		return c.JSON(fiber.Map{
			"memory_count": registry.Cache.Memory().Count(),
			"memory_cost":  registry.Cache.Memory().TotalCost(),
		})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		registry.Cache.ClearMemory()
		done := make(chan struct{})
		registry.Cache.ClearDisk(func() { close(done) })
		select {
		case <-done:
		case <-time.After(clearTimeout):
			return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "clear_timeout"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

type statusPayload struct {
	Version     string `json:"version"`
	CacheName   string `json:"cache_name"`
	CachePath   string `json:"cache_path"`
	Downloader  string `json:"downloader"`
	InFlight    int    `json:"in_flight_downloads"`
	MemoryCount int    `json:"memory_count"`
	MemoryCost  int64  `json:"memory_cost"`
	DiskSize    int64  `json:"disk_size"`
	DiskError   string `json:"disk_error,omitempty"`
	ETags       int    `json:"etags"`
}

func buildStatus(registry *server.Registry) statusPayload {
	payload := statusPayload{
		Version:     version.Full(),
		CacheName:   registry.Cache.Name(),
		CachePath:   registry.Cache.Disk().Directory(),
		Downloader:  registry.Downloader.Name(),
		InFlight:    registry.Downloader.InFlight(),
		MemoryCount: registry.Cache.Memory().Count(),
		MemoryCost:  registry.Cache.Memory().TotalCost(),
	}
	if size, err := registry.Cache.DiskSize(); err != nil {
		payload.DiskError = err.Error()
	} else {
		payload.DiskSize = size
	}
	if registry.ETags != nil {
		payload.ETags = registry.ETags.Len()
	}
	return payload
}
