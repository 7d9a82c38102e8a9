// Command supplyrelease watches the token's pool price and mints and
// sells supply whenever it trades above the configured ceiling, up to a
// lifetime release cap.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/chainfeed"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/config"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/dotenv"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/gateway"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/supply"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/wallet"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var (
		configPath = flag.String("config", "", "Path to JSON config (defaults apply when missing)")
		once       = flag.Bool("once", false, "Run a single check and exit")
	)
	flag.Parse()

	cfg, err := config.LoadSupply(*configPath)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	key := strings.TrimSpace(os.Getenv("OWNER_PRIVATE_KEY"))
	if key == "" {
		log.Fatalf("[fatal] OWNER_PRIVATE_KEY not set")
	}
	owner, err := wallet.New(key)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := gateway.New(cfg.RPCURLs, cfg.MaxGasPriceWei)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer gw.Close()

	bot, err := supply.New(ctx, gw, owner, cfg)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	if *once {
		released, err := bot.Check(ctx)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		if released {
			log.Printf("[info] release executed, lifetime total %s base units", bot.Released())
		} else {
			log.Printf("[info] no release needed")
		}
		return
	}

	// With a websocket endpoint configured the bot reacts to new heads;
	// otherwise it polls on the configured interval.
	var heads <-chan chainfeed.Head
	if wsURL := strings.TrimSpace(os.Getenv("BASE_MAINNET_WS")); wsURL != "" {
		var errs <-chan error
		heads, errs = chainfeed.Start(ctx, wsURL, chainfeed.Options{})
		go func() {
			for err := range errs {
				log.Printf("[warn] chainfeed: %v", err)
			}
		}()
	}

	if err := bot.Run(ctx, heads); err != nil && ctx.Err() == nil {
		log.Fatalf("[fatal] %v", err)
	}
	log.Printf("[info] shutting down")
}
