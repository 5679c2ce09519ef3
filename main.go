package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	version     = flag.Bool("version", false, "Print version info")
	help        = flag.Bool("help", false, "Print help")
	logLevel    = flag.String("log", "info", "Log level (error, warn, info, debug)")
	redisServer = flag.String("redis_server", "127.0.0.1", "Redis server address")
	redisPort   = flag.Int("redis_port", 6379, "Redis server port")
	canDevice   = flag.String("can_device", "can0", "CAN device name")
	configPath  = flag.String("config", "/etc/tuning-service/config.yaml", "Device configuration file")
	demoMode    = flag.Bool("demo", false, "Run with a synthetic wheel sensor (bench use)")
)

const (
	ProjectName    = "tuning-service"
	ProjectVersion = "1.0.0"
)

func printVersion() {
	fmt.Printf("%s v%s\n", ProjectName, ProjectVersion)
}

func printHelp() {
	printVersion()
	flag.PrintDefaults()
}

func main() {
	flag.Parse()

	if *version {
		printVersion()
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q", *logLevel)
	}
	log.SetLevel(level)

	cfg := LoadConfig(*configPath)

	opts := &Options{
		RedisServerAddr: *redisServer,
		RedisServerPort: uint16(*redisPort),
		CANDevice:       *canDevice,
		DemoSensor:      *demoMode,
	}

	app, err := NewTuningApp(opts, cfg)
	if err != nil {
		log.Fatalf("failed to create tuning app: %v", err)
	}
	defer app.Destroy()

	app.Run()

	// Handle SIGINT and SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Infof("signal received, requesting shutdown")
		app.RequestShutdown()
		select {
		case <-app.Done():
		case <-time.After(5 * time.Second):
			log.Warnf("shutdown timed out")
		}
	case <-app.Done():
		// Supervisor reached Shutdown via IPC request.
	}
}
