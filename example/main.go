package main

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vsinha/fxalloc/pkg/application/services/allocation"
	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/infrastructure/notification"
	fixtures "github.com/vsinha/fxalloc/pkg/infrastructure/testing"
)

func main() {
	ctx := context.Background()

	clock := fixtures.NewClock(fixtures.Day0, 0)
	stores := fixtures.BuildStores(clock)

	var crossed []entities.ThresholdCrossed
	service := allocation.NewService(stores.Lots, stores.Demands, stores.Queue, allocation.Options{
		Thresholds: []decimal.Decimal{decimal.NewFromInt(80)},
		Sink: notification.SinkFunc(func(_ context.Context, n entities.ThresholdCrossed) error {
			crossed = append(crossed, n)
			return nil
		}),
		Logger: zap.NewNop(),
		Clock:  clock.Now,
	})

	supply := fixtures.BuildTradingDayData()

	fmt.Println("💱 Opening the trading day with the morning Daily batch...")
	if _, err := service.SubmitSupply(ctx, supply[0]); err != nil {
		log.Fatal(err)
	}

	fmt.Println("🏦 Branch BR-001 books USD 2000 for purchase")
	result, err := service.SubmitDemand(ctx, allocation.DemandRequest{
		ID:       "D-BR-001",
		Currency: "USD",
		Purpose:  entities.Purchase,
		Qty:      decimal.NewFromInt(2000),
		Source:   "BR-001",
	})
	if err != nil {
		log.Fatal(err)
	}
	for _, alloc := range result.Allocations {
		fmt.Printf("  %s USD from %s at %s\n", alloc.Qty, alloc.LotID, alloc.Rate)
	}
	fmt.Printf("  unmet %s queued\n", result.UnmetQty)

	fmt.Println("📦 Interbank top-up arrives...")
	topUp, err := service.SubmitSupply(ctx, supply[1])
	if err != nil {
		log.Fatal(err)
	}
	for _, alloc := range topUp.QueueAllocations {
		fmt.Printf("  queued demand %s filled with %s from %s\n", alloc.DemandID, alloc.Qty, alloc.LotID)
	}

	for _, batch := range supply[:2] {
		report, err := service.BatchReport(ctx, batch.ID)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Batch %s: %s\n", report.ID, report.Status)
		for _, lot := range report.Lots {
			fmt.Printf("  %s %s/%s (%s%%)\n", lot.ID, lot.AllocatedQty, lot.TotalQty, lot.FillPercentage.StringFixed(1))
		}
	}

	fmt.Printf("🔔 %d lots crossed 80%%\n", len(crossed))
	for _, n := range crossed {
		fmt.Printf("  %s at %s%%\n", n.LotID, n.FillPercentage.StringFixed(1))
	}
}
