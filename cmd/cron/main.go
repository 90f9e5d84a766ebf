package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/conf"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	klog "github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

// CronApp holds the usecases the cron jobs drive. The subscription usecase
// is carried so its orderable registration runs before the first sweep.
type CronApp struct {
	scheduler *biz.SchedulerUsecase
	tabs      *biz.TabUsecase
	subs      *biz.SubscriptionUsecase
}

func newLogger(c *conf.Bootstrap) klog.Logger {
	return klog.With(klog.NewStdLogger(os.Stdout),
		"ts", klog.DefaultTimestamp,
		"caller", klog.DefaultCaller,
		"service.name", "billing-cron",
	)
}

func main() {
	flag.Parse()

	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	if err := bc.Validate(); err != nil {
		panic(fmt.Sprintf("config validation failed: %v", err))
	}

	app, cleanup, err := wireApp(&bc)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	cronScheduler := cron.New(cron.WithSeconds())

	// 1. Charge sweep: bill due order items every minute
	_, err = cronScheduler.AddFunc("0 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		result, err := app.scheduler.RunScheduledCharges(ctx)
		if err != nil {
			log.Printf("[CRON] Error running charge sweep: %v", err)
			return
		}
		if result.Due > 0 {
			log.Printf("[CRON] Charge sweep: due=%d groups=%d orders=%d skipped=%d failed=%d",
				result.Due, result.Groups, result.Orders, result.Skipped, result.Failed)
		}
	})
	if err != nil {
		log.Printf("Failed to add charge sweep job: %v", err)
	}

	// 2. Stale tab close - every day at 01:00
	_, err = cronScheduler.AddFunc("0 0 1 * * *", func() {
		log.Println("[CRON] Starting stale tab close...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		closed, err := app.tabs.CloseStaleTabs(ctx)
		if err != nil {
			log.Printf("[CRON] Error closing stale tabs: %v", err)
			return
		}
		log.Printf("[CRON] Closed %d stale tabs", closed)
	})
	if err != nil {
		log.Printf("Failed to add stale tab close job: %v", err)
	}

	cronScheduler.Start()
	log.Println("========================================")
	log.Println("Cron jobs started successfully")
	log.Println("Scheduled jobs:")
	log.Println("  - Charge sweep:    Every minute")
	log.Println("  - Stale tab close: Every day at 01:00")
	log.Println("========================================")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")

	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		log.Println("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		log.Println("Cron jobs forced to stop after timeout")
	}
}
