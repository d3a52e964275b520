package e2etesting

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
)

type RouteInfo struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	HitCount int    `json:"hit_count,omitempty"`
}

type CoverageStats struct {
	TotalRoutes   int
	CoveredRoutes int
	MissingRoutes []RouteInfo
	Coverage      float64
}

// RouteCoverage records which registered routes a test run actually hit, so
// a suite can fail itself when an endpoint goes untested.
type RouteCoverage struct {
	mu               sync.RWMutex
	registeredRoutes map[string]RouteInfo
	hitRoutes        map[string]int
	excludePatterns  []string
}

func NewRouteCoverage(excludePatterns ...string) *RouteCoverage {
	return &RouteCoverage{
		registeredRoutes: make(map[string]RouteInfo),
		hitRoutes:        make(map[string]int),
		excludePatterns:  excludePatterns,
	}
}

func routeKey(method, path string) string {
	return method + ":" + path
}

// RegisterRoutes snapshots the routing table. Echo's internal routes (the
// framework registers its own names under its module path) are skipped.
func (rc *RouteCoverage) RegisterRoutes(e *echo.Echo) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for _, route := range e.Routes() {
		if strings.Contains(route.Name, "github.com/labstack/echo") {
			continue
		}
		skip := false
		for _, pattern := range rc.excludePatterns {
			if strings.Contains(route.Path, pattern) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}

		rc.registeredRoutes[routeKey(route.Method, route.Path)] = RouteInfo{
			Method: route.Method,
			Path:   route.Path,
		}
	}
}

func (rc *RouteCoverage) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rc.mu.Lock()
			rc.hitRoutes[routeKey(c.Request().Method, c.Path())]++
			rc.mu.Unlock()

			return next(c)
		}
	}
}

func (rc *RouteCoverage) Stats() CoverageStats {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	var missing []RouteInfo
	covered := 0

	for key, route := range rc.registeredRoutes {
		if rc.hitRoutes[key] > 0 {
			covered++
		} else {
			missing = append(missing, route)
		}
	}

	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Path == missing[j].Path {
			return missing[i].Method < missing[j].Method
		}
		return missing[i].Path < missing[j].Path
	})

	total := len(rc.registeredRoutes)
	var coverage float64
	if total > 0 {
		coverage = float64(covered) / float64(total) * 100
	}

	return CoverageStats{
		TotalRoutes:   total,
		CoveredRoutes: covered,
		MissingRoutes: missing,
		Coverage:      coverage,
	}
}

func (rc *RouteCoverage) HitCount(method, path string) int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.hitRoutes[routeKey(method, path)]
}

func (rc *RouteCoverage) PrintReport() {
	rc.PrintReportTo(os.Stderr)
}

func (rc *RouteCoverage) PrintReportTo(w io.Writer) {
	stats := rc.Stats()

	fmt.Fprintf(w, "\nEndpoint coverage: %d/%d (%.1f%%)\n",
		stats.CoveredRoutes, stats.TotalRoutes, stats.Coverage)

	if len(stats.MissingRoutes) > 0 {
		fmt.Fprintf(w, "Missing:\n")
		for _, route := range stats.MissingRoutes {
			fmt.Fprintf(w, "  %-7s %s\n", route.Method, route.Path)
		}
	}
}
