// pm25-check 运维检查工具：查看最近上报的设备、单设备统计，或离线校验一条负载
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/common/database"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/config"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/evaluator"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/parser"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/repository"

	"go.uber.org/zap"
)

type options struct {
	hours    int
	deviceID string
	payload  string
}

func main() {
	var opts options
	flag.IntVar(&opts.hours, "hours", 24, "time window in hours")
	flag.StringVar(&opts.deviceID, "device", "", "show statistics for a single device")
	flag.StringVar(&opts.payload, "payload", "", "validate a raw JSON payload file (skips the database)")
	flag.Parse()

	// 离线校验负载不需要数据库
	if opts.payload != "" {
		data, err := os.ReadFile(opts.payload)
		if err != nil {
			log.Fatalf("Failed to read payload: %v", err)
		}
		if err := checkPayload(os.Stdout, opts.deviceID, data); err != nil {
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := repository.NewMeasurementsRepository(db, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, os.Stdout, repo, opts); err != nil {
		log.Fatalf("Check failed: %v", err)
	}
}

func run(ctx context.Context, w io.Writer, store repository.MeasurementStore, opts options) error {
	if opts.deviceID != "" {
		return printDeviceStats(ctx, w, store, opts.deviceID, opts.hours)
	}
	return printDevices(ctx, w, store, opts.hours)
}

func section(w io.Writer, title string) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

// printDevices 1. 最近 hours 小时内上报的设备及最新读数
func printDevices(ctx context.Context, w io.Writer, store repository.MeasurementStore, hours int) error {
	points, err := store.QueryRecent(ctx, hours)
	if err != nil {
		return err
	}

	section(w, fmt.Sprintf("Devices reporting in the last %d hours", hours))

	type row struct {
		deviceID string
		last     time.Time
		pm25     float64
		count    int
	}
	rows := make(map[string]*row)
	for _, p := range points {
		r, ok := rows[p.DeviceID]
		if !ok {
			r = &row{deviceID: p.DeviceID}
			rows[p.DeviceID] = r
		}
		r.count++
		if p.Time.After(r.last) {
			r.last, r.pm25 = p.Time, p.PM25
		}
	}

	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintf(w, "%-24s %-22s %-10s %-24s %-8s\n", "device_id", "last_seen", "pm25", "level", "points")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, id := range ids {
		r := rows[id]
		fmt.Fprintf(w, "%-24s %-22s %-10.1f %-24s %-8d\n",
			r.deviceID, r.last.UTC().Format("2006-01-02 15:04:05"), r.pm25, evaluator.Classify(r.pm25), r.count)
	}

	if len(ids) == 0 {
		fmt.Fprintln(w, "No devices found")
	} else {
		fmt.Fprintf(w, "\n%d devices, %d points\n", len(ids), len(points))
	}
	return nil
}

// printDeviceStats 2. 单设备统计
func printDeviceStats(ctx context.Context, w io.Writer, store repository.MeasurementStore, deviceID string, hours int) error {
	stats, err := store.DeviceStats(ctx, deviceID, hours)
	if err != nil {
		return err
	}

	section(w, fmt.Sprintf("Device %s, last %d hours", deviceID, hours))
	if stats.Count == 0 {
		fmt.Fprintln(w, "No data")
		return nil
	}

	fmt.Fprintf(w, "%-10s %d\n", "count", stats.Count)
	fmt.Fprintf(w, "%-10s %.2f (%s)\n", "avg", stats.AvgPM25, evaluator.Classify(stats.AvgPM25))
	fmt.Fprintf(w, "%-10s %.2f\n", "min", stats.MinPM25)
	fmt.Fprintf(w, "%-10s %.2f (%s)\n", "max", stats.MaxPM25, evaluator.Classify(stats.MaxPM25))
	return nil
}

// checkPayload 3. 用采集服务同样的解析规则校验负载
func checkPayload(w io.Writer, deviceID string, payload []byte) error {
	if deviceID == "" {
		deviceID = "check"
	}

	section(w, "Payload check")
	m, err := parser.Parse(deviceID, payload, time.Now())
	if err != nil {
		fmt.Fprintf(w, "INVALID: %v\n", err)
		return err
	}

	level := evaluator.Classify(m.PM25)
	fmt.Fprintf(w, "OK: %s\n", m)
	fmt.Fprintf(w, "timestamp: %s\n", m.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "level: %s (%s)\n", level, level.Band().Message)
	if len(m.Extra) > 0 {
		keys := make([]string, 0, len(m.Extra))
		for k := range m.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "extra: %s\n", strings.Join(keys, ", "))
	}
	return nil
}
