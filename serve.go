package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/devatadev/godrmcore/device"
	"github.com/devatadev/godrmcore/ecc"
)

var configPath = flag.String("config", "./serve.yaml", "Path to the serve configuration file")

type Config struct {
	Serve       Serve           `yaml:"serve"`
	Users       map[string]User `yaml:"users"`
	Devices     []string        `yaml:"devices"`
	TrustedRoot string          `yaml:"trusted_root"`
}

type User struct {
	Devices []string `yaml:"devices"`
	Name    string   `yaml:"name"`
}

type Serve struct {
	Port int64  `yaml:"port"`
	Host string `yaml:"host"`
	Mode string `yaml:"mode"`
}

func readConfig(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &config, nil
}

// trustedRoot decodes the configured root key, nil when unset.
func (c *Config) trustedRoot() ([]byte, error) {
	if c.TrustedRoot == "" {
		return nil, nil
	}
	root, err := hex.DecodeString(c.TrustedRoot)
	if err != nil {
		return nil, fmt.Errorf("trusted_root: %w", err)
	}
	if len(root) != ecc.PublicKeySize {
		return nil, fmt.Errorf("trusted_root: want %d bytes, got %d", ecc.PublicKeySize, len(root))
	}
	return root, nil
}

// deviceName is the file name of a device path without its extension.
func deviceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// loadDevices reads every configured device file concurrently.
func loadDevices(ctx context.Context, paths []string) (map[string]*device.Device, error) {
	devices := make([]*device.Device, len(paths))
	g, _ := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			d, err := device.Load(path)
			if err != nil {
				return err
			}
			devices[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byName := make(map[string]*device.Device, len(paths))
	for i, path := range paths {
		name := deviceName(path)
		if _, ok := byName[name]; ok {
			return nil, fmt.Errorf("duplicate device name %q", name)
		}
		byName[name] = devices[i]
	}
	return byName, nil
}

func ginMode(mode string) string {
	switch mode {
	case "", "prod", "production", "release":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}

func main() {
	flag.Parse()
	defer glog.Flush()

	config, err := readConfig(*configPath)
	if err != nil {
		glog.Exitf("Failed to read config: %v", err)
	}
	root, err := config.trustedRoot()
	if err != nil {
		glog.Exitf("Invalid config: %v", err)
	}
	devices, err := loadDevices(context.Background(), config.Devices)
	if err != nil {
		glog.Exitf("Failed to load devices: %v", err)
	}
	for name, d := range devices {
		glog.Infof("Loaded device %q, security level %d", name, d.SecurityLevel)
	}

	mode := ginMode(config.Serve.Mode)
	gin.SetMode(mode)
	router := newServer(config, devices, root).router()

	address := config.Serve.Host + ":" + strconv.FormatInt(config.Serve.Port, 10)
	glog.Infof("Server starting on %s, using mode %s", address, mode)
	if err := router.Run(address); err != nil {
		glog.Exitf("Server stopped: %v", err)
	}
}
