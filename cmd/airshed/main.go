package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/airshed/airshed/internal/config"
	"github.com/airshed/airshed/internal/ingest"
	"github.com/airshed/airshed/internal/models"
	"github.com/airshed/airshed/internal/monitor"
	"github.com/airshed/airshed/internal/notify"
	"github.com/airshed/airshed/internal/purpleair"
	"github.com/airshed/airshed/internal/store"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"name='env-file',optional,help='Load environment variables from a .env file.'"`

	APIKey      string `env:"PURPLEAIR_API_KEY" required:"" help:"PurpleAir API key."`
	Registry    string `env:"AIRSHED_REGISTRY" default:"sensors.json" help:"Path to the sensor registry JSON file."`
	DatabaseURL string `env:"DATABASE_URL" help:"Postgres connection string (primary backend)."`
	SQLitePath  string `env:"AIRSHED_SQLITE" default:"data/airshed.db" help:"SQLite database path (fallback backend)."`
	RawDir      string `env:"AIRSHED_RAW_DIR" default:"data/raw" help:"Directory for raw payload documents."`

	Monitor MonitorCmd `cmd:"" help:"Poll sensor liveness on an interval and alert on offline sensors."`
	Pull    PullCmd    `cmd:"" help:"Harvest raw sensor readings into a timestamped file."`
	Process ProcessCmd `cmd:"" help:"Normalize the latest raw file and store it through the backend chain."`
	Once    OnceCmd    `cmd:"" help:"Run one pull and process cycle, then exit."`
}

func (c *CLI) client() *purpleair.Client {
	return purpleair.New(c.APIKey)
}

func (c *CLI) sensors() ([]models.Sensor, error) {
	return config.LoadRegistry(c.Registry)
}

func (c *CLI) chain() *store.Chain {
	return store.NewChain(store.NewPostgres(c.DatabaseURL), store.NewSQLite(c.SQLitePath))
}

type MonitorCmd struct {
	Threshold     float64       `env:"AIRSHED_THRESHOLD_HOURS" default:"3" help:"Hours without a report before a sensor is offline."`
	Interval      time.Duration `env:"AIRSHED_POLL_INTERVAL" default:"300s" help:"Sleep between poll cycles."`
	ErrorInterval time.Duration `env:"AIRSHED_ERROR_INTERVAL" default:"60s" help:"Sleep after a failed poll cycle."`
	RequestDelay  time.Duration `env:"AIRSHED_REQUEST_DELAY" default:"1s" help:"Delay between per-sensor API requests."`
	MetricsAddr   string        `env:"AIRSHED_METRICS_ADDR" default:":9090" help:"Listen address for the /metrics endpoint."`
	MQTTBroker    string        `env:"AIRSHED_MQTT_BROKER" help:"MQTT broker URL for offline alerts (log-only when unset)."`
	MQTTTopic     string        `env:"AIRSHED_MQTT_TOPIC" default:"airshed/alerts" help:"MQTT topic for offline alerts."`
}

func (cmd *MonitorCmd) Run(cli *CLI) error {
	sensors, err := cli.sensors()
	if err != nil {
		return err
	}
	log.Printf("monitoring %d sensors from %s", len(sensors), cli.Registry)

	var notifier notify.Notifier = notify.LogNotifier{}
	if cmd.MQTTBroker != "" {
		mq, err := notify.NewMQTTNotifier(cmd.MQTTBroker, "airshed-monitor", cmd.MQTTTopic)
		if err != nil {
			return fmt.Errorf("mqtt notifier: %w", err)
		}
		defer mq.Close()
		notifier = mq
	}

	m := monitor.New(cli.client(), sensors, notifier)
	m.SetThreshold(cmd.Threshold)
	m.SetIntervals(cmd.Interval, cmd.ErrorInterval)
	m.SetRequestDelay(cmd.RequestDelay)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Printf("metrics listening on %s", cmd.MetricsAddr)
		if err := http.ListenAndServe(cmd.MetricsAddr, mux); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	m.Run(ctx)
	return nil
}

type PullCmd struct {
	WindowDays   int           `env:"AIRSHED_WINDOW_DAYS" default:"14" help:"Days of history to pull."`
	Bucket       int           `env:"AIRSHED_BUCKET_SECONDS" default:"3600" help:"Averaging bucket in seconds."`
	RequestDelay time.Duration `env:"AIRSHED_REQUEST_DELAY" default:"1s" help:"Delay between per-sensor API requests."`
	Group        bool          `help:"Use the groups batch API instead of per-sensor history."`
	GroupName    string        `default:"airshed-pull" help:"Name for the temporary remote group."`
}

func (cmd *PullCmd) Run(cli *CLI) error {
	sensors, err := cli.sensors()
	if err != nil {
		return err
	}

	h := ingest.NewHarvester(cli.client(), sensors, cli.RawDir)
	h.SetWindow(time.Duration(cmd.WindowDays)*24*time.Hour, cmd.Bucket)
	h.SetRequestDelay(cmd.RequestDelay)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cmd.Group {
		_, err = h.PullGroup(ctx, cmd.GroupName)
	} else {
		_, err = h.PullHistory(ctx)
	}
	return err
}

type ProcessCmd struct{}

func (cmd *ProcessCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_, err := ingest.ProcessLatest(ctx, cli.RawDir, cli.chain())
	return err
}

type OnceCmd struct {
	Pull PullCmd `embed:""`
}

func (cmd *OnceCmd) Run(cli *CLI) error {
	if err := cmd.Pull.Run(cli); err != nil {
		return err
	}
	return (&ProcessCmd{}).Run(cli)
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("airshed"),
		kong.Description("Air quality sensor liveness monitoring and ingestion."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(&cli); err != nil {
		log.Fatalf("airshed: %v", err)
	}
}
