package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cdfmlr/graphpool/config"
	"github.com/cdfmlr/graphpool/pool"
	"github.com/cdfmlr/graphpool/registry"
	"github.com/cdfmlr/graphpool/transport"
)

var (
	configPath = flag.String("config", "", "path to a pool config YAML file (default: built-in ExampleConfig)")
	poolName   = flag.String("name", "default", "name to register the pool under")
	statement  = flag.String("exec", "", "a statement to run once through an acquired connection, then exit")
	dryRun     = flag.Bool("dry-run", false, "use an in-memory fake connector instead of dialing a real backend")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("graphpoolctl: %v", err)
	}
	log.Printf("graphpoolctl: using config %+v", cfg.DesensitizedCopy())

	connector := buildConnector(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := registry.Default().Create(ctx, *poolName, cfg.ToPoolConfig(), connector)
	if err != nil {
		log.Fatalf("graphpoolctl: create pool: %v", err)
	}
	defer registry.Default().Close(*poolName)

	if *statement != "" {
		if err := runStatement(ctx, p, *statement); err != nil {
			log.Fatalf("graphpoolctl: exec: %v", err)
		}
	}

	printStats(p)
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.ExampleConfig().WithDefaults(), nil
	}
	c, err := config.ReadFromYaml(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	withDefaults := c.WithDefaults()
	if err := withDefaults.Check(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return withDefaults, nil
}

func buildConnector(cfg config.Config) transport.Connector {
	if *dryRun {
		return transport.NewFakeConnector()
	}
	return transport.NewWSConnector(cfg.ToTransportConfig())
}

func runStatement(ctx context.Context, p *pool.Pool, stmt string) error {
	return p.Do(ctx, func(s transport.Session) error {
		result, err := s.Execute(ctx, stmt, nil)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	})
}

func printStats(p *pool.Pool) {
	stats := p.Stats()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(stats)
}
