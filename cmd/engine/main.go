package main

import (
	"context"
	"log"

	"github.com/mixdao/mixd/internal/addresspool"
	"github.com/mixdao/mixd/internal/api"
	"github.com/mixdao/mixd/internal/config"
	"github.com/mixdao/mixd/internal/engine"
	"github.com/mixdao/mixd/internal/ledger"
	"github.com/mixdao/mixd/internal/node"
	"github.com/mixdao/mixd/internal/store"
	"github.com/mixdao/mixd/internal/wallet"
)

func main() {
	log.Println("Starting mixd Job Engine...")

	cfg := config.Load()

	nodeClient, err := node.New(node.Config{
		Host: cfg.BTCRPCHost,
		User: cfg.BTCRPCUser,
		Pass: cfg.BTCRPCPass,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to connect to node RPC: %v", err)
	}
	defer nodeClient.Shutdown()

	w := wallet.New(nodeClient, cfg)
	pool := addresspool.New(w, cfg.AddressPoolBatch)

	st, err := store.Open("mixd")
	if err != nil {
		log.Fatalf("FATAL: failed to open job store: %v", err)
	}

	var led *ledger.Ledger
	if cfg.DatabaseURL != "" {
		led, err = ledger.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Printf("Warning: failed to connect to ledger database, continuing without history/audit mirror: %v", err)
			led = nil
		} else {
			defer led.Close()
		}
	} else {
		log.Println("DATABASE_URL not set, running without the ledger mirror (GET /mix/history disabled)")
	}

	wsHub := api.NewHub()
	go wsHub.Run()

	var auditor engine.AuditRecorder
	if led != nil {
		auditor = led
	}
	eng := engine.New(w, pool, st, cfg, wsHub, auditor)

	stop := make(chan struct{})
	defer close(stop)
	go eng.RunGuardian(stop)

	r := api.SetupRouter(eng, st, nodeClient, led, wsHub)

	log.Printf("Engine running on :%s\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
