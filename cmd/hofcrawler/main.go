// Command hofcrawler runs a single server's crawl coordinator until
// interrupted, then writes a backup and exits. Supervising many servers,
// scheduling repeated crawls, and serving the index over a network API
// are out of scope (spec.md §1 Non-goals); this is a demonstration
// driver for the internal/hof package, not a production daemon.
//
// The concrete game-protocol client (hof.Session/hof.GameState) is an
// external, consumed interface (spec.md §6) that this repo does not
// implement; newSession/newGameState below must be replaced with a real
// client before this binary can talk to an actual server.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/marenga/hofcrawler/internal/discord"
	"github.com/marenga/hofcrawler/internal/hof"
	"github.com/marenga/hofcrawler/internal/telemetry"
)

// unwiredSession is a placeholder hof.Session: the concrete HTTP/game-
// protocol client is external to this module (spec.md §6) and must be
// supplied by whatever deploys hofcrawler against a real server. Every
// method fails cleanly instead of panicking, so main reports a clear
// error rather than crashing.
type unwiredSession struct{ url string }

var errNoProtocolClient = errors.New("hofcrawler: no game-protocol client wired in; replace newSession/newGameState in cmd/hofcrawler/main.go")

func (s *unwiredSession) ServerURL() string { return s.url }
func (s *unwiredSession) Login(ctx context.Context) (hof.RawResponse, error) {
	return nil, errNoProtocolClient
}
func (s *unwiredSession) Register(ctx context.Context, gender, race, class string) (hof.RawResponse, error) {
	return nil, errNoProtocolClient
}
func (s *unwiredSession) SendHallOfFamePage(ctx context.Context, page uint32) (hof.RawResponse, error) {
	return nil, errNoProtocolClient
}
func (s *unwiredSession) SendViewPlayer(ctx context.Context, ident string) (hof.RawResponse, error) {
	return nil, errNoProtocolClient
}

func newSession(name, password, serverURL string) hof.Session {
	return &unwiredSession{url: serverURL}
}

func newGameState(resp hof.RawResponse) (hof.GameState, error) {
	return nil, errNoProtocolClient
}

func main() {
	var (
		serverURL   = flag.String("server", "", "https URL of the game server to crawl")
		accountName = flag.String("account", "", "crawler account name (registered automatically if it does not exist)")
		workers     = flag.Int("workers", 4, "number of concurrent crawl workers")
		minLevel    = flag.Uint("min-level", hof.DefaultMinLevel, "lowest account level to crawl")
		maxLevel    = flag.Uint("max-level", hof.DefaultMaxLevel, "highest account level to crawl")
		order       = flag.String("order", string(hof.OrderRandom), "page order: Random, TopDown, or BottomUp")
		fetchOnline = flag.Bool("fetch-online", true, "check hof-cache.marenga.dev for a fresher backup before crawling")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	if *serverURL == "" || *accountName == "" {
		log.Fatal("both -server and -account are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down, finishing in-flight requests")
		cancel()
	}()

	ident := hof.NewServerIdent(*serverURL)

	var notifier hof.Notifier
	if webhookURL := os.Getenv("DISCORD_WEBHOOK_URL"); webhookURL != "" {
		notifier = discord.NewWebhookClient(webhookURL)
	}

	var telemetrySink hof.ProgressSink
	if os.Getenv("DATABASE_URL") != "" {
		db, err := telemetry.New(ctx)
		if err != nil {
			log.Printf("telemetry disabled: %v", err)
		} else {
			defer db.Close()
			if err := db.EnsureSchema(ctx); err != nil {
				log.Printf("telemetry schema setup failed: %v", err)
			} else {
				telemetrySink = db
			}
		}
	}

	coordinator := hof.NewServerCoordinator(ident, nil)
	coordinator.Notifier = notifier
	coordinator.Telemetry = telemetrySink

	if err := coordinator.Login(ctx, *accountName, newSession, newGameState); err != nil {
		log.Fatalf("logging in: %v", err)
	}

	coordinator.GameStateMu.Lock()
	playersTotal := coordinator.GameState.PlayersTotal()
	coordinator.GameStateMu.Unlock()
	totalPages := uint32(0)
	if playersTotal > 0 {
		totalPages = (playersTotal + hof.PerPage - 1) / hof.PerPage
	}

	fetcher := hof.NewHTTPBackupFetcher()
	backup, err := hof.GetNewestBackup(ctx, fetcher, ident.Name, *fetchOnline)
	if err != nil {
		log.Printf("could not fetch a newer backup: %v", err)
	}
	if backup == nil {
		// Cold start: RestoreBackup(nil, totalPages) would otherwise
		// hard-code Order=Random and the default level window, silently
		// dropping -order/-min-level/-max-level. Seed the page list
		// ourselves so those flags still apply.
		pages := make([]uint32, totalPages)
		for i := range pages {
			pages[i] = uint32(i)
		}
		backup = &hof.BackupSnapshot{TodoPages: pages}
	}
	backup.Order = hof.Order(*order)
	backup.MinLevel = uint32(*minLevel)
	backup.MaxLevel = uint32(*maxLevel)

	if err := coordinator.Restore(ctx, backup, totalPages); err != nil {
		log.Fatalf("restoring crawl state: %v", err)
	}

	log.Printf("crawling %s as %s with %d workers", ident.Name, *accountName, *workers)
	coordinator.RunWorkers(ctx, *workers)

	snapshot := coordinator.Snapshot()
	if err := hof.WriteBackup(ident.Name, snapshot); err != nil {
		log.Fatalf("writing final backup: %v", err)
	}
	log.Printf("wrote backup for %s at %s", ident.Name, time.Now().Format(time.RFC3339))
}
