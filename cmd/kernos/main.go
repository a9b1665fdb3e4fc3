package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/mwantia/kernos"
	"github.com/mwantia/kernos/block"
	consuldev "github.com/mwantia/kernos/block/consul"
	memorydev "github.com/mwantia/kernos/block/memory"
	postgresdev "github.com/mwantia/kernos/block/postgres"
	s3dev "github.com/mwantia/kernos/block/s3"
	sqlitedev "github.com/mwantia/kernos/block/sqlite"
	"github.com/mwantia/kernos/data"
	"github.com/mwantia/kernos/log"
	"github.com/mwantia/kernos/vm"
	"github.com/mwantia/kernos/vm/pagedir"
	"github.com/mwantia/kernos/vm/palloc"
	"github.com/mwantia/kernos/vm/swap"
)

type Config struct {
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	Device  string      `json:"device"` // memory, sqlite, consul, postgres, s3
	Sectors data.Sector `json:"sectors"`
	Format  bool        `json:"format"`

	SQLitePath    string `json:"sqlite_path"`
	PostgresURL   string `json:"postgres_url"`
	ConsulAddress string `json:"consul_address"`

	S3Endpoint  string `json:"s3_endpoint"`
	S3Bucket    string `json:"s3_bucket"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`
	S3UseSSL    bool   `json:"s3_use_ssl"`

	UserPages   int         `json:"user_pages"`
	SwapSectors data.Sector `json:"swap_sectors"`
}

func loadConfig(path string) (*Config, error) {
	config := &Config{
		LogLevel: "INFO",
		Device:   "memory",
		Sectors:  4096,
		Format:   true,

		SQLitePath:  ":memory:",
		UserPages:   64,
		SwapSectors: 1024,
	}

	if path == "" {
		return config, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnv overlays secrets and endpoints from the environment, so
// config files can stay free of credentials.
func applyEnv(config *Config) {
	if v := os.Getenv("KERNOS_POSTGRES_URL"); v != "" {
		config.PostgresURL = v
	}
	if v := os.Getenv("KERNOS_CONSUL_ADDRESS"); v != "" {
		config.ConsulAddress = v
	}
	if v := os.Getenv("KERNOS_S3_ACCESS_KEY"); v != "" {
		config.S3AccessKey = v
	}
	if v := os.Getenv("KERNOS_S3_SECRET_KEY"); v != "" {
		config.S3SecretKey = v
	}
}

func buildDevice(config *Config) (block.Device, error) {
	switch config.Device {
	case "memory":
		return memorydev.NewMemoryDevice(config.Sectors), nil
	case "sqlite":
		return sqlitedev.NewSQLiteDevice(config.SQLitePath, config.Sectors)
	case "consul":
		return consuldev.NewConsulDevice(&consuldev.ConsulDeviceConfig{
			Address: config.ConsulAddress,
		}, config.Sectors)
	case "postgres":
		return postgresdev.NewPostgresDevice(config.PostgresURL, config.Sectors)
	case "s3":
		return s3dev.NewS3Device(config.S3Endpoint, config.S3Bucket,
			config.S3AccessKey, config.S3SecretKey, config.S3UseSSL, config.Sectors)
	default:
		return nil, fmt.Errorf("unknown device backend %q", config.Device)
	}
}

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	flag.Parse()

	// Optional .env next to the binary, environment wins over file
	_ = godotenv.Load()

	config, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyEnv(config)

	logger := log.New("kernos", log.Parse(config.LogLevel), config.LogFile, false)

	ctx := context.Background()

	dev, err := buildDevice(config)
	if err != nil {
		logger.Fatal("device setup failed: %v", err)
	}

	if err := runFilesystemDemo(ctx, dev, config, logger); err != nil {
		logger.Fatal("filesystem demo failed: %v", err)
	}

	if err := runVMDemo(ctx, config, logger); err != nil {
		logger.Fatal("vm demo failed: %v", err)
	}

	if err := dev.Close(ctx); err != nil {
		logger.Error("device close failed: %v", err)
	}
}

func runFilesystemDemo(ctx context.Context, dev block.Device, config *Config, logger *log.Logger) error {
	fs, err := kernos.NewFileSystem(ctx, dev, config.Format, kernos.WithLogger(logger))
	if err != nil {
		return err
	}

	task, err := fs.NewTask(ctx)
	if err != nil {
		return err
	}

	dirs := []string{
		"/home",
		"/home/user",
		"/home/user/documents",
		"/etc",
		"/var",
	}
	for _, dir := range dirs {
		if err := fs.Create(ctx, task, dir, 0, true); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	files := map[string]int64{
		"/home/user/documents/readme.txt": 512,
		"/etc/motd":                       128,
		"/var/banner":                     2048,
	}
	for name, size := range files {
		if err := fs.Create(ctx, task, name, size, false); err != nil {
			return fmt.Errorf("create file %s: %w", name, err)
		}
	}

	root, err := fs.Open(ctx, task, "/")
	if err != nil {
		return err
	}
	logger.Info("root directory inode: sector %d, %s of entry table",
		root.Sector(), humanize.IBytes(uint64(root.Length())))
	root.Close(ctx)

	for name, size := range files {
		h, err := fs.Open(ctx, task, name)
		if err != nil {
			return err
		}
		logger.Info("%-34s %8s  sector %d", name, humanize.IBytes(uint64(size)), h.Sector())
		h.Close(ctx)
	}

	// Directories with content refuse removal, emptied ones go away
	if err := fs.Remove(ctx, task, "/home/user"); err != nil {
		logger.Info("remove /home/user refused as expected: %v", err)
	}
	if err := fs.Remove(ctx, task, "/home/user/documents/readme.txt"); err != nil {
		return err
	}
	if err := fs.Remove(ctx, task, "/home/user/documents"); err != nil {
		return err
	}
	if err := fs.Remove(ctx, task, "/home/user"); err != nil {
		return err
	}

	if err := task.Close(ctx); err != nil {
		return err
	}

	return fs.Close(ctx)
}

func runVMDemo(ctx context.Context, config *Config, logger *log.Logger) error {
	pool := palloc.New(config.UserPages)
	store := swap.New(memorydev.NewMemoryDevice(config.SwapSectors))
	table := vm.New(pool, store, logger)

	space := vm.NewSpace(pagedir.New())
	pd := space.PageTable().(*pagedir.Dir)

	// Touch more pages than physically fit, forcing eviction
	overcommit := config.UserPages + config.UserPages/2
	for i := 0; i < overcommit; i++ {
		vp := data.VirtPage(i) * data.PageSize

		addr, err := table.Allocate(ctx, space, vp, palloc.FlagZero)
		if err != nil {
			return err
		}

		pd.SetPage(vp, addr)
		pd.SetAccessed(vp, true)
		if i%3 == 0 {
			pd.SetDirty(vp, true)
		}
	}

	logger.Info("vm: %d frames resident, %d free pages, %d free swap slots, %s arena",
		table.Len(), pool.FreePages(), store.FreeSlots(),
		humanize.IBytes(uint64(pool.Pages())*data.PageSize))

	return nil
}
