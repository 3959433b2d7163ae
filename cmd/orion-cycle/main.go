// Command orion-cycle runs a race entity through its whole life on a broker:
// create, query, subscribe, update, delete and unsubscribe. Notifications
// are checked in the relay ledger, so orion-relay should be running on the
// callback host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"orion-bridge/api/services"
	"orion-bridge/db"
	"orion-bridge/pkg/config"
	"orion-bridge/pkg/ontology"
	"orion-bridge/pkg/orion"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type options struct {
	configPath   string
	callbackHost string
	entityID     string
	wait         time.Duration
	dbPath       string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "optional YAML configuration file")
	flag.StringVar(&opts.callbackHost, "callback-host", "", "host IP/name where the broker posts notifications")
	flag.StringVar(&opts.entityID, "entity", "", "race entity id (default opentrack:race:<uuid>)")
	flag.DurationVar(&opts.wait, "wait", 3*time.Second, "time to wait for the notification")
	flag.StringVar(&opts.dbPath, "db", "", "relay ledger to check for notifications (default from config)")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env file")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if opts.callbackHost != "" {
		cfg.Callback.Host = opts.callbackHost
	}
	if opts.dbPath == "" {
		opts.dbPath = cfg.Relay.DBPath
	}
	if opts.entityID == "" {
		opts.entityID = "opentrack:race:" + uuid.New().String()
	}

	client, err := orion.New(cfg.OrionConfig(), orion.WithLogger(log.New(os.Stderr, "", log.LstdFlags)))
	if err != nil {
		log.Fatal("Failed to create Orion client:", err)
	}

	if err := run(context.Background(), client, cfg.CallbackURL(), opts); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, client *orion.Client, callbackURL string, opts options) error {
	entity := opts.entityID

	fmt.Println("1. Get the Orion version")
	version, err := client.Version(ctx)
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	fmt.Printf("   %s (up %s)\n", version.Orion.Version, version.Orion.Uptime)

	fmt.Println()
	fmt.Println("2. Create a race with its start list")
	race := map[string]interface{}{
		"race_name": "Sunday Fun Run",
		"start_list": []map[string]string{
			{"bib": "001", "name": "Tom"},
			{"bib": "002", "name": "Dick"},
			{"bib": "003", "name": "Harry"},
		},
	}
	if _, err := client.CreateEntity(ctx, entity, "race", race); err != nil {
		return fmt.Errorf("create %s: %w", entity, err)
	}
	fmt.Printf("   created %s\n", entity)

	fmt.Println()
	fmt.Println("3. Query the race's start list")
	startList, err := fetchStartList(ctx, client, entity)
	if err != nil {
		return err
	}
	fmt.Printf("   %v\n", startList)

	fmt.Println()
	fmt.Println("4. Subscribe to changes on this race")
	fmt.Printf("   callback %s\n", callbackURL)
	sub, err := client.Subscribe(ctx, orion.SubscriptionRequest{
		EntityID:    entity,
		Attributes:  []string{"race_name", "start_list"},
		CallbackURL: callbackURL,
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	subscriptionID := sub.SubscribeResponse.SubscriptionID
	fmt.Printf("   subscription %s\n", subscriptionID)

	fmt.Println()
	fmt.Println("5. Replace the start list, add one more")
	reportUpdate(client.UpdateAttribute(ctx, entity, "start_list",
		append(startList, map[string]interface{}{"bib": "005", "name": "Walt"})))

	fmt.Println()
	fmt.Println("6. Query the start list to check")
	again, err := fetchStartList(ctx, client, entity)
	if err != nil {
		return err
	}
	fmt.Printf("   %v\n", again)

	fmt.Println()
	fmt.Println("7. Delete the race")
	if status, err := client.DeleteEntity(ctx, entity); err != nil {
		fmt.Printf("   delete failed: %v\n", err)
	} else if status.Code == "200" {
		fmt.Println("   deleted")
	} else {
		fmt.Printf("   %s %s\n", status.Code, status.ReasonPhrase)
	}

	fmt.Println()
	fmt.Println("8. Query the race after deletion")
	if _, err := client.FetchAttribute(ctx, entity, "start_list"); orion.IsNotFound(err) {
		fmt.Println("   not found")
	} else if err != nil {
		fmt.Printf("   %v\n", err)
	} else {
		fmt.Println("   still present")
	}

	fmt.Println()
	fmt.Println("9. Check the notification in the ledger")
	time.Sleep(opts.wait)
	checkLedger(ctx, opts.dbPath, subscriptionID)

	fmt.Println()
	fmt.Println("10. Cancel the subscription")
	unsub, err := client.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		fmt.Printf("   %v\n", err)
	} else {
		fmt.Printf("   %s %s\n", unsub.StatusCode.Code, unsub.StatusCode.ReasonPhrase)
	}

	fmt.Println()
	fmt.Println("11. Extend the start list again")
	reportUpdate(client.UpdateAttribute(ctx, entity, "start_list",
		append(startList, map[string]interface{}{"bib": "007", "name": "James"})))

	return nil
}

func fetchStartList(ctx context.Context, client *orion.Client, entity string) ([]interface{}, error) {
	value, err := client.FetchAttribute(ctx, entity, "start_list")
	if err != nil {
		return nil, fmt.Errorf("fetch start_list: %w", err)
	}
	list, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("start_list is %T, not a list", value)
	}
	return list, nil
}

func reportUpdate(status *ontology.StatusCode, err error) {
	switch {
	case err != nil:
		fmt.Printf("   %v\n", err)
	case status.Code == "200":
		fmt.Println("   updated start list")
	default:
		fmt.Printf("   %s %s %s\n", status.Code, status.ReasonPhrase, status.Details)
	}
}

func checkLedger(ctx context.Context, dbPath, subscriptionID string) {
	dbConfig := db.DefaultConfig()
	dbConfig.DBPath = dbPath
	ledger, err := db.New(dbConfig)
	if err != nil {
		fmt.Printf("   cannot open ledger: %v\n", err)
		return
	}
	defer ledger.Close()

	latest, err := services.NewNotificationService(ledger, nil).Latest(ctx, subscriptionID)
	if errors.Is(err, services.ErrNotificationNotFound) {
		fmt.Printf("   no notification recorded for %s\n", subscriptionID)
		return
	}
	if err != nil {
		fmt.Printf("   %v\n", err)
		return
	}
	fmt.Printf("   original ID: %s == received: %s\n", subscriptionID, latest.SubscriptionID)
}
