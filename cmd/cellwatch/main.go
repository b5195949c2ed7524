// Command cellwatch queries and watches the cells owned by one lock script.
//
//	cellwatch [flags] balance     print confirmed and pending-adjusted balance
//	cellwatch [flags] watch       print new cells as blocks arrive
//	cellwatch [flags] reconcile   evict settled transactions from the pending store
//	cellwatch [flags] serve       serve the HTTP API (the lock flags are not needed)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/b-open-io/cellindex/config"
	"github.com/b-open-io/cellindex/pending"
	"github.com/b-open-io/cellindex/query"
	"github.com/b-open-io/cellindex/routes"
	"github.com/b-open-io/cellindex/subscriber"
	"github.com/b-open-io/cellindex/types"
)

var (
	CODE_HASH    string
	HASH_TYPE    string
	ARGS         string
	FROM_BLOCK   string
	METRICS_ADDR string
	SYNC_WAIT    time.Duration
	LISTEN_ADDR  string
)

func init() {
	godotenv.Load(".env")

	flag.StringVar(&CODE_HASH, "code-hash", os.Getenv("LOCK_CODE_HASH"), "Lock script code hash")
	flag.StringVar(&HASH_TYPE, "hash-type", "type", "Lock script hash type")
	flag.StringVar(&ARGS, "args", os.Getenv("LOCK_ARGS"), "Lock script args")
	flag.StringVar(&FROM_BLOCK, "from", "", "First block to watch (hex), defaults to the tip")
	flag.StringVar(&METRICS_ADDR, "metrics", os.Getenv("METRICS_ADDR"), "Serve prometheus metrics on this address")
	flag.StringVar(&LISTEN_ADDR, "listen", ":3000", "HTTP API address for serve")
	flag.DurationVar(&SYNC_WAIT, "sync-wait", 0, "Wait up to this long for the indexer to catch up with the node")
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 || (CODE_HASH == "" && flag.Arg(0) != "serve") {
		fmt.Fprintln(os.Stderr, "usage: cellwatch -code-hash 0x... -args 0x... balance|watch|reconcile|serve")
		flag.PrintDefaults()
		os.Exit(2)
	}

	lock := types.Script{CodeHash: CODE_HASH, HashType: types.HashType(HASH_TYPE), Args: ARGS}.Normalized()
	if CODE_HASH != "" && !lock.HashType.Valid() {
		log.Fatalf("invalid hash type %q", HASH_TYPE)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	stack, err := config.CreateStack(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create stack: %v", err)
	}
	defer stack.Close()

	if METRICS_ADDR != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(METRICS_ADDR, nil); err != nil {
				stack.Logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	if SYNC_WAIT > 0 {
		syncCtx, syncCancel := context.WithTimeout(ctx, SYNC_WAIT)
		err := stack.Indexer.WaitForSync(syncCtx, 0, time.Second)
		syncCancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.Fatalf("Failed to check indexer sync: %v", err)
		}
	}

	switch cmd := flag.Arg(0); cmd {
	case "balance":
		err = balance(ctx, stack, lock)
	case "watch":
		err = watch(ctx, stack, lock)
	case "reconcile":
		err = reconcile(ctx, stack)
	case "serve":
		err = serve(ctx, stack)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func balance(ctx context.Context, stack *config.Stack, lock types.Script) error {
	confirmed, err := stack.Indexer.GetBalance(ctx, lock)
	if err != nil {
		return err
	}

	c, err := stack.Pending.Collector(query.QueryOptions{Lock: query.Lock(lock), Type: query.NoType()}, pending.CollectorOptions{})
	if err != nil {
		return err
	}
	var available uint64
	var cells int
	for cell, err := range c.Collect(ctx) {
		if err != nil {
			return err
		}
		capacity, err := cell.CapacityValue()
		if err != nil {
			return err
		}
		available += capacity
		cells++
	}

	fmt.Printf("confirmed: %s CKB\n", types.FormatCKB(confirmed))
	fmt.Printf("available: %s CKB in %d plain cells (pending transactions applied)\n", types.FormatCKB(available), cells)
	return nil
}

func watch(ctx context.Context, stack *config.Stack, lock types.Script) error {
	sub, err := stack.Subscriber.Subscribe(ctx, subscriber.SubscribeOptions{
		Query: query.QueryOptions{Lock: query.Lock(lock), FromBlock: FROM_BLOCK},
	})
	if err != nil {
		return err
	}
	median, err := stack.Subscriber.SubscribeMedianTime(ctx)
	if err != nil {
		return err
	}

	stack.Subscriber.StartForever(ctx)
	stack.Pending.StartForever(ctx)
	stack.Logger.Infof("watching %s:%s:%s", lock.CodeHash, lock.HashType, lock.Args)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			for _, cell := range e.Cells {
				capacity, _ := cell.CapacityValue()
				fmt.Printf("block %s: %s %s CKB\n", cell.BlockNumber, cell.Key(), types.FormatCKB(capacity))
			}
		case e, ok := <-median.Events():
			if !ok {
				return nil
			}
			if ms, err := types.ParseUint64(e.MedianTime); err == nil {
				stack.Logger.Debugf("tip %s, median time %s", e.TipNumber, time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339))
			}
		}
	}
}

func reconcile(ctx context.Context, stack *config.Stack) error {
	if err := stack.Pending.Reconcile(ctx); err != nil {
		return err
	}
	txs, err := stack.Pending.Transactions(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d transactions still pending\n", len(txs))
	for _, tx := range txs {
		fmt.Println(tx.Hash)
	}
	return nil
}

func serve(ctx context.Context, stack *config.Stack) error {
	app := routes.NewApp()
	v1 := app.Group("/v1")
	routes.RegisterRoutes(v1, &routes.RoutesConfig{Pending: stack.Pending, Logger: stack.Logger.New("routes")})
	routes.RegisterTransactionRoutes(v1, &routes.TransactionRoutesConfig{Pending: stack.Pending, Logger: stack.Logger.New("routes")})
	routes.RegisterSSERoutes(v1, &routes.SSERoutesConfig{Subscriber: stack.Subscriber, Context: ctx, Logger: stack.Logger.New("sse")})

	stack.Subscriber.StartForever(ctx)
	stack.Pending.StartForever(ctx)

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			stack.Logger.Errorf("shutdown: %v", err)
		}
	}()

	stack.Logger.Infof("listening on %s", LISTEN_ADDR)
	return app.Listen(LISTEN_ADDR)
}
